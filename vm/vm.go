package vm

import (
	"context"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
)

// VM executes a compiled program against a caller-supplied Context.
type VM struct {
	program    *Program
	interactor Interactor // Optional; nil disables I/O side effects

	maxSteps int  // 0 = unlimited
	steps    int  // Instructions executed by the last run
	trace    bool // Log every instruction at debug level
	profiler *Profiler

	log commonlog.Logger
}

// Option configures a VM.
type Option func(*VM)

// WithMaxSteps aborts a run with ErrStepLimit after n executed instructions.
// Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(v *VM) { v.maxSteps = n }
}

// WithTrace enables per-instruction debug logging.
func WithTrace(on bool) Option {
	return func(v *VM) { v.trace = on }
}

// WithLogger replaces the default "whiteplanes.vm" logger.
func WithLogger(log commonlog.Logger) Option {
	return func(v *VM) { v.log = log }
}

// New creates a VM for the given program.
func New(program *Program, opts ...Option) *VM {
	if program == nil {
		program = NewProgram()
	}
	v := &VM{
		program: program,
		log:     commonlog.GetLogger("whiteplanes.vm"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetInteractor attaches the host I/O capability. Passing nil detaches it,
// after which I/O instructions only consume their stack operands.
func (v *VM) SetInteractor(io Interactor) {
	v.interactor = io
}

// Program returns the program this VM executes.
func (v *VM) Program() *Program {
	return v.program
}

// Steps returns the number of instructions executed by the last run.
// LABEL instructions are not counted.
func (v *VM) Steps() int {
	return v.steps
}

// Run executes the program against c until it ends or fails.
//
// All LABEL instructions are bound first, so forward references resolve.
// Execution then starts at c.Counter. After every instruction the counter is
// advanced by one, so a jump to a label resumes just after its LABEL.
// On failure c is left as it was when the failing instruction started, except
// for operands that instruction already popped.
func (v *VM) Run(ctx context.Context, c *Context) error {
	if c == nil {
		return errors.New("vm: nil context")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.ensure()
	v.steps = 0

	v.register(c)

	code := v.program.Code
	done := ctx.Done()
	for c.Counter >= 0 && c.Counter < len(code) {
		if done != nil {
			select {
			case <-done:
				return v.fault(c, ErrAborted, "", ctx.Err())
			default:
			}
		}

		inst := code[c.Counter]
		if inst.Op != OpRegister {
			if v.maxSteps > 0 && v.steps >= v.maxSteps {
				return v.fault(c, ErrStepLimit, fmt.Sprintf("limit %d", v.maxSteps), nil)
			}
			if v.trace && v.log.AllowLevel(commonlog.Debug) {
				v.log.Debugf("[%04d] %-16s depth=%d calls=%d", c.Counter, inst, len(c.Stack), len(c.Calls))
			}
			if v.profiler != nil {
				v.profiler.record(c.Counter)
			}
			if err := v.execute(inst, c); err != nil {
				return err
			}
			v.steps++
		}
		c.Counter++
	}
	return nil
}

// register binds every LABEL to its own index.
func (v *VM) register(c *Context) {
	for i, inst := range v.program.Code {
		if inst.Op == OpRegister {
			c.Labels[inst.Label] = i
		}
	}
}

// execute applies one instruction to c.
func (v *VM) execute(inst Instruction, c *Context) error {
	switch inst.Op {
	// ============ Stack Operations ============
	case OpPush:
		c.Push(inst.Value)

	case OpCopy:
		val, err := c.Peek(inst.Value)
		if err != nil {
			return v.fault(c, err, fmt.Sprintf("depth %d of %d", inst.Value, len(c.Stack)), nil)
		}
		c.Push(val)

	case OpSlide:
		if inst.Value < 0 || inst.Value >= int64(len(c.Stack)) {
			return v.fault(c, ErrStackUnderflow, fmt.Sprintf("slide %d of %d", inst.Value, len(c.Stack)), nil)
		}
		top := len(c.Stack) - 1
		keep := c.Stack[top]
		c.Stack = c.Stack[:top-int(inst.Value)]
		c.Push(keep)

	case OpDuplicate:
		val, err := c.Peek(0)
		if err != nil {
			return v.fault(c, err, "", nil)
		}
		c.Push(val)

	case OpSwap:
		a, b, err := v.pop2(c)
		if err != nil {
			return err
		}
		c.Push(a)
		c.Push(b)

	case OpDiscard:
		if _, err := c.Pop(); err != nil {
			return v.fault(c, err, "", nil)
		}

	// ============ Arithmetic ============
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		x, y, err := v.pop2(c)
		if err != nil {
			return err
		}
		result, err := arith(inst.Op, x, y)
		if err != nil {
			return v.fault(c, err, fmt.Sprintf("%d %s %d", x, inst.Op, y), nil)
		}
		c.Push(result)

	// ============ Heap ============
	case OpStore:
		val, addr, err := v.pop2(c)
		if err != nil {
			return err
		}
		c.Store(addr, val)

	case OpRetrieve:
		addr, err := c.Pop()
		if err != nil {
			return v.fault(c, err, "", nil)
		}
		val, err := c.Load(addr)
		if err != nil {
			return v.fault(c, err, fmt.Sprintf("address %d", addr), nil)
		}
		c.Push(val)

	// ============ Flow Control ============
	case OpRegister:
		// Bound by the pre-pass.

	case OpCall:
		target, err := v.resolve(c, inst.Label)
		if err != nil {
			return err
		}
		c.PushCall(c.Counter)
		c.Counter = target

	case OpJump:
		target, err := v.resolve(c, inst.Label)
		if err != nil {
			return err
		}
		c.Counter = target

	case OpBranchZero, OpBranchNegative:
		val, err := c.Pop()
		if err != nil {
			return v.fault(c, err, "", nil)
		}
		taken := val == 0
		if inst.Op == OpBranchNegative {
			taken = val < 0
		}
		if taken {
			target, err := v.resolve(c, inst.Label)
			if err != nil {
				return err
			}
			c.Counter = target
		}

	case OpReturn:
		addr, err := c.PopCall()
		if err != nil {
			return v.fault(c, err, "", nil)
		}
		c.Counter = addr

	case OpEnd:
		// The loop's increment takes the counter past the last instruction.
		c.Counter = len(v.program.Code) - 1

	// ============ I/O ============
	case OpOutputChar, OpOutputNumber:
		val, err := c.Pop()
		if err != nil {
			return v.fault(c, err, "", nil)
		}
		if v.interactor == nil {
			return nil
		}
		if inst.Op == OpOutputChar {
			err = v.interactor.OutputCharacter(toRune(val))
		} else {
			err = v.interactor.OutputNumber(val)
		}
		if err != nil {
			return v.fault(c, ErrIO, "output", err)
		}

	case OpInputChar, OpInputNumber:
		addr, err := c.Pop()
		if err != nil {
			return v.fault(c, err, "", nil)
		}
		if v.interactor == nil {
			return nil
		}
		var val int64
		if inst.Op == OpInputChar {
			var r rune
			r, err = v.interactor.InputCharacter()
			val = int64(r)
		} else {
			val, err = v.interactor.InputNumber()
		}
		if err != nil {
			return v.fault(c, ErrIO, "input", err)
		}
		c.Store(addr, val)

	default:
		return fmt.Errorf("vm: unknown opcode %d at %d", uint8(inst.Op), c.Counter)
	}
	return nil
}

// pop2 pops the top value, then the one beneath it.
func (v *VM) pop2(c *Context) (first, second int64, err error) {
	if len(c.Stack) < 2 {
		return 0, 0, v.fault(c, ErrStackUnderflow, fmt.Sprintf("need 2, have %d", len(c.Stack)), nil)
	}
	first, _ = c.Pop()
	second, _ = c.Pop()
	return first, second, nil
}

// resolve looks up a label bound by the pre-pass.
func (v *VM) resolve(c *Context, label string) (int, error) {
	target, err := c.Resolve(label)
	if err != nil {
		return 0, v.fault(c, err, "label "+labelDisplay(label), nil)
	}
	return target, nil
}

// fault builds a RuntimeError for the instruction at the counter.
func (v *VM) fault(c *Context, kind error, detail string, cause error) error {
	err := &RuntimeError{
		Kind:    kind,
		Counter: c.Counter,
		Detail:  detail,
		Cause:   cause,
	}
	if c.Counter >= 0 && c.Counter < len(v.program.Code) {
		err.Inst = v.program.Code[c.Counter]
	}
	v.log.Debugf("%s", err)
	return err
}

// arith applies a binary arithmetic opcode where x was popped first.
// Overflow wraps (two's complement); division truncates toward zero.
func arith(op Opcode, x, y int64) (int64, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return 0, ErrDivisionByZero
		}
		return x / y, nil
	case OpMod:
		if y == 0 {
			return 0, ErrDivisionByZero
		}
		return x % y, nil
	}
	return 0, fmt.Errorf("vm: %s is not arithmetic", op)
}

// toRune maps a stack value to a character, using U+FFFD for values outside
// the Unicode range.
func toRune(val int64) rune {
	if val < 0 || val > unicode.MaxRune {
		return utf8.RuneError
	}
	return rune(val)
}
