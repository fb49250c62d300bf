package vm

import (
	"context"
	"errors"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"testing"
)

// MockInteractor records output and serves fixed input.
type MockInteractor struct {
	Out      strings.Builder
	Chars    []rune
	Numbers  []int64
	OutErr   error
	Requests int
}

func (m *MockInteractor) OutputCharacter(r rune) error {
	if m.OutErr != nil {
		return m.OutErr
	}
	m.Out.WriteRune(r)
	return nil
}

func (m *MockInteractor) OutputNumber(n int64) error {
	if m.OutErr != nil {
		return m.OutErr
	}
	m.Out.WriteString(strconv.FormatInt(n, 10))
	return nil
}

func (m *MockInteractor) InputCharacter() (rune, error) {
	m.Requests++
	if len(m.Chars) == 0 {
		return 0, io.EOF
	}
	r := m.Chars[0]
	m.Chars = m.Chars[1:]
	return r, nil
}

func (m *MockInteractor) InputNumber() (int64, error) {
	m.Requests++
	if len(m.Numbers) == 0 {
		return 0, io.EOF
	}
	n := m.Numbers[0]
	m.Numbers = m.Numbers[1:]
	return n, nil
}

// run executes code on a fresh context and fails the test on error.
func run(t *testing.T, io Interactor, code ...Instruction) *Context {
	t.Helper()
	c := NewContext()
	v := New(NewProgram(code...))
	v.SetInteractor(io)
	if err := v.Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return c
}

// runErr executes code on a fresh context and returns the error.
func runErr(io Interactor, code ...Instruction) (*Context, error) {
	c := NewContext()
	v := New(NewProgram(code...))
	v.SetInteractor(io)
	return c, v.Run(context.Background(), c)
}

func assertStack(t *testing.T, c *Context, want ...int64) {
	t.Helper()
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(c.Stack, want) {
		t.Errorf("stack = %v, want %v", c.Stack, want)
	}
}

// ============ Stack Operation Tests ============

func TestVMPush(t *testing.T) {
	c := run(t, nil, Push(1), Push(2), Push(3))
	assertStack(t, c, 1, 2, 3)
}

func TestVMCopyCountsFromTop(t *testing.T) {
	c := run(t, nil, Push(10), Push(20), Push(30), WithValue(OpCopy, 2))
	assertStack(t, c, 10, 20, 30, 10)

	c = run(t, nil, Push(10), Push(20), WithValue(OpCopy, 0))
	assertStack(t, c, 10, 20, 20)
}

func TestVMCopyOutOfRange(t *testing.T) {
	_, err := runErr(nil, Push(1), WithValue(OpCopy, 1))
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("expected ErrStackUnderflow, got %v", err)
	}
}

func TestVMSlide(t *testing.T) {
	c := run(t, nil, Push(1), Push(2), Push(3), Push(4), WithValue(OpSlide, 2))
	assertStack(t, c, 1, 4)

	c = run(t, nil, Push(1), Push(2), WithValue(OpSlide, 0))
	assertStack(t, c, 1, 2)
}

func TestVMSlideUnderflowLeavesStack(t *testing.T) {
	c, err := runErr(nil, Push(1), Push(2), WithValue(OpSlide, 2))
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("expected ErrStackUnderflow, got %v", err)
	}
	assertStack(t, c, 1, 2)
}

func TestVMDuplicateDiscardIsIdentity(t *testing.T) {
	c := run(t, nil, Push(5), Push(6), Simple(OpDuplicate), Simple(OpDiscard))
	assertStack(t, c, 5, 6)
}

func TestVMSwap(t *testing.T) {
	c := run(t, nil, Push(1), Push(2), Simple(OpSwap))
	assertStack(t, c, 2, 1)
}

func TestVMSwapTwiceIsIdentity(t *testing.T) {
	c := run(t, nil, Push(1), Push(2), Simple(OpSwap), Simple(OpSwap))
	assertStack(t, c, 1, 2)
}

func TestVMStackUnderflow(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
	}{
		{"discard", []Instruction{Simple(OpDiscard)}},
		{"duplicate", []Instruction{Simple(OpDuplicate)}},
		{"swap", []Instruction{Push(1), Simple(OpSwap)}},
		{"add", []Instruction{Push(1), Simple(OpAdd)}},
		{"store", []Instruction{Push(1), Simple(OpStore)}},
		{"retrieve", []Instruction{Simple(OpRetrieve)}},
		{"branch", []Instruction{WithLabel(OpRegister, "0"), WithLabel(OpBranchZero, "0")}},
		{"output", []Instruction{Simple(OpOutputNumber)}},
		{"input", []Instruction{Simple(OpInputChar)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runErr(nil, tc.code...)
			if !errors.Is(err, ErrStackUnderflow) {
				t.Fatalf("expected ErrStackUnderflow, got %v", err)
			}
			var rerr *RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected *RuntimeError, got %T", err)
			}
			if rerr.Counter != len(tc.code)-1 {
				t.Errorf("Counter = %d, want %d", rerr.Counter, len(tc.code)-1)
			}
		})
	}
}

// ============ Arithmetic Tests ============

func TestVMArithmeticPopsTopFirst(t *testing.T) {
	// y pushed first, x second: result is x OP y.
	tests := []struct {
		op   Opcode
		y, x int64
		want int64
	}{
		{OpAdd, 3, 4, 7},
		{OpSub, 3, 10, 7},
		{OpSub, 10, 3, -7},
		{OpMul, 6, 7, 42},
		{OpDiv, 3, 10, 3},
		{OpDiv, 2, -7, -3},
		{OpMod, 3, 10, 1},
		{OpMod, 3, -7, -1},
	}
	for _, tc := range tests {
		t.Run(tc.op.String(), func(t *testing.T) {
			c := run(t, nil, Push(tc.y), Push(tc.x), Simple(tc.op))
			assertStack(t, c, tc.want)
		})
	}
}

func TestVMDivisionByZero(t *testing.T) {
	for _, op := range []Opcode{OpDiv, OpMod} {
		t.Run(op.String(), func(t *testing.T) {
			// Divisor is the second value popped.
			_, err := runErr(nil, Push(0), Push(5), Simple(op))
			if !errors.Is(err, ErrDivisionByZero) {
				t.Fatalf("expected ErrDivisionByZero, got %v", err)
			}
		})
	}

	// Zero on top is the dividend, which is fine.
	c := run(t, nil, Push(5), Push(0), Simple(OpDiv))
	assertStack(t, c, 0)
}

func TestVMOverflowWraps(t *testing.T) {
	c := run(t, nil, Push(1), Push(math.MaxInt64), Simple(OpAdd))
	assertStack(t, c, math.MinInt64)

	c = NewContext()
	c.Stack = []int64{-1, math.MinInt64}
	if err := New(NewProgram(Simple(OpDiv))).Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assertStack(t, c, math.MinInt64)
}

// ============ Heap Tests ============

func TestVMHeapRoundTrip(t *testing.T) {
	c := run(t, nil,
		Push(7), Push(99), Simple(OpStore),
		Push(7), Simple(OpRetrieve),
	)
	assertStack(t, c, 99)
	if c.Heap[7] != 99 {
		t.Errorf("heap[7] = %d, want 99", c.Heap[7])
	}
}

func TestVMRetrieveMissingAddress(t *testing.T) {
	_, err := runErr(nil, Push(3), Simple(OpRetrieve))
	if !errors.Is(err, ErrHeapAddress) {
		t.Fatalf("expected ErrHeapAddress, got %v", err)
	}
}

// ============ Flow Control Tests ============

func TestVMForwardJump(t *testing.T) {
	c := run(t, nil,
		WithLabel(OpJump, "1"),
		Push(1), // skipped
		WithLabel(OpRegister, "1"),
		Push(2),
	)
	assertStack(t, c, 2)
}

func TestVMForwardAndBackwardLabelsAgree(t *testing.T) {
	forward := run(t, nil,
		Push(3),
		WithLabel(OpJump, "10"),
		Push(100),
		WithLabel(OpRegister, "10"),
		Push(4),
	)
	backward := run(t, nil,
		Push(3),
		WithLabel(OpJump, "skip"),
		WithLabel(OpRegister, "10"),
		Push(4),
		Simple(OpEnd),
		WithLabel(OpRegister, "skip"),
		WithLabel(OpJump, "10"),
	)
	if !slices.Equal(forward.Stack, backward.Stack) {
		t.Errorf("forward stack %v != backward stack %v", forward.Stack, backward.Stack)
	}
}

func TestVMCallReturn(t *testing.T) {
	c := run(t, nil,
		WithLabel(OpCall, "0"),
		Push(2),
		Simple(OpEnd),
		WithLabel(OpRegister, "0"),
		Push(1),
		Simple(OpReturn),
	)
	assertStack(t, c, 1, 2)
	if len(c.Calls) != 0 {
		t.Errorf("call stack = %v, want empty", c.Calls)
	}
}

func TestVMNestedCalls(t *testing.T) {
	c := run(t, nil,
		WithLabel(OpCall, "a"),
		Simple(OpEnd),
		WithLabel(OpRegister, "a"),
		Push(1),
		WithLabel(OpCall, "b"),
		Push(3),
		Simple(OpReturn),
		WithLabel(OpRegister, "b"),
		Push(2),
		Simple(OpReturn),
	)
	assertStack(t, c, 1, 2, 3)
}

func TestVMReturnWithoutCall(t *testing.T) {
	_, err := runErr(nil, Simple(OpReturn))
	if !errors.Is(err, ErrCallStackUnderflow) {
		t.Fatalf("expected ErrCallStackUnderflow, got %v", err)
	}
}

func TestVMUndefinedLabel(t *testing.T) {
	for _, op := range []Opcode{OpJump, OpCall} {
		_, err := runErr(nil, WithLabel(op, "101"))
		if !errors.Is(err, ErrUndefinedLabel) {
			t.Errorf("%s: expected ErrUndefinedLabel, got %v", op, err)
		}
	}

	// A branch that is not taken never resolves its label.
	c := run(t, nil, Push(1), WithLabel(OpBranchZero, "missing"), Push(2))
	assertStack(t, c, 2)
}

func TestVMBranches(t *testing.T) {
	tests := []struct {
		name  string
		op    Opcode
		value int64
		taken bool
	}{
		{"jz zero", OpBranchZero, 0, true},
		{"jz positive", OpBranchZero, 5, false},
		{"jz negative", OpBranchZero, -5, false},
		{"jn negative", OpBranchNegative, -1, true},
		{"jn zero", OpBranchNegative, 0, false},
		{"jn positive", OpBranchNegative, 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewContext()
			c.Stack = []int64{tc.value}
			prog := NewProgram(
				WithLabel(tc.op, "1"),
				Push(0), // fall through
				Simple(OpEnd),
				WithLabel(OpRegister, "1"),
				Push(1), // taken
			)
			if err := New(prog).Run(context.Background(), c); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			want := int64(0)
			if tc.taken {
				want = 1
			}
			assertStack(t, c, want)
		})
	}
}

func TestVMEndStopsRun(t *testing.T) {
	prog := NewProgram(Push(1), Simple(OpEnd), Push(2))
	c := NewContext()
	if err := New(prog).Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assertStack(t, c, 1)
	if c.Counter < prog.Len() {
		t.Errorf("Counter = %d, want >= %d", c.Counter, prog.Len())
	}
}

func TestVMRegisterIsNotExecuted(t *testing.T) {
	v := New(NewProgram(WithLabel(OpRegister, "0"), Push(1), WithLabel(OpRegister, "1")))
	c := NewContext()
	if err := v.Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Steps() != 1 {
		t.Errorf("Steps = %d, want 1", v.Steps())
	}
	if c.Labels["0"] != 0 || c.Labels["1"] != 2 {
		t.Errorf("labels = %v", c.Labels)
	}
}

func TestVMDuplicateLabelBindsLast(t *testing.T) {
	c := run(t, nil,
		WithLabel(OpJump, "0"),
		WithLabel(OpRegister, "0"),
		Push(1),
		Simple(OpEnd),
		WithLabel(OpRegister, "0"),
		Push(2),
	)
	assertStack(t, c, 2)
}

// ============ I/O Tests ============

func TestVMOutput(t *testing.T) {
	m := &MockInteractor{}
	c := run(t, m, Push('H'), Simple(OpOutputChar), Push(42), Simple(OpOutputNumber))
	if got := m.Out.String(); got != "H42" {
		t.Errorf("output = %q, want %q", got, "H42")
	}
	assertStack(t, c)
}

func TestVMOutputCharacterOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		val  int64
	}{
		{"above 32 bits", 1<<32 + 72},
		{"above MaxRune", 0x110000},
		{"negative", -72},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			terminal := NewStreamIO(strings.NewReader(""), &out)
			v := New(NewProgram(Push(tt.val), Simple(OpOutputChar)))
			v.SetInteractor(terminal)
			if err := v.Run(context.Background(), NewContext()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if err := terminal.Flush(); err != nil {
				t.Fatal(err)
			}
			if got := out.String(); got != "\uFFFD" {
				t.Errorf("output = %q, want %q", got, "\uFFFD")
			}
		})
	}
}

func TestVMInput(t *testing.T) {
	m := &MockInteractor{Chars: []rune{'H'}, Numbers: []int64{-12}}
	c := run(t, m,
		Push(0), Simple(OpInputChar),
		Push(1), Simple(OpInputNumber),
		Push(0), Simple(OpRetrieve), Simple(OpOutputNumber),
	)
	if c.Heap[0] != 72 || c.Heap[1] != -12 {
		t.Errorf("heap = %v", c.Heap)
	}
	if got := m.Out.String(); got != "72" {
		t.Errorf("output = %q, want %q", got, "72")
	}
}

func TestVMNoInteractorConsumesOperands(t *testing.T) {
	c := run(t, nil,
		Push(65), Simple(OpOutputChar),
		Push(1), Simple(OpOutputNumber),
		Push(5), Simple(OpInputChar),
		Push(6), Simple(OpInputNumber),
	)
	assertStack(t, c)
	if len(c.Heap) != 0 {
		t.Errorf("heap = %v, want empty", c.Heap)
	}
}

func TestVMInteractorFailure(t *testing.T) {
	m := &MockInteractor{}
	_, err := runErr(m, Push(0), Simple(OpInputNumber))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected cause io.EOF in %v", err)
	}

	m = &MockInteractor{OutErr: errors.New("closed")}
	_, err = runErr(m, Push(1), Simple(OpOutputNumber))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

// ============ Run Control Tests ============

func infiniteLoop() *Program {
	return NewProgram(WithLabel(OpRegister, "0"), WithLabel(OpJump, "0"))
}

func TestVMCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(infiniteLoop()).Run(ctx, NewContext())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in %v", err)
	}
}

func TestVMStepLimit(t *testing.T) {
	v := New(infiniteLoop(), WithMaxSteps(100))
	err := v.Run(context.Background(), NewContext())
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
	if v.Steps() != 100 {
		t.Errorf("Steps = %d, want 100", v.Steps())
	}
}

func TestVMStepLimitIgnoresTrailingLabels(t *testing.T) {
	prog := NewProgram(
		Push(1),
		WithLabel(OpRegister, "a"),
		WithLabel(OpRegister, "b"),
	)
	v := New(prog, WithMaxSteps(1))
	c := NewContext()
	if err := v.Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v.Steps() != 1 {
		t.Errorf("Steps = %d, want 1", v.Steps())
	}
	assertStack(t, c, 1)
}

func TestVMNilContext(t *testing.T) {
	if err := New(NewProgram()).Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestVMZeroValueContext(t *testing.T) {
	c := &Context{}
	if err := New(NewProgram(Push(1), Push(2), Simple(OpStore))).Run(context.Background(), c); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.Heap[1] != 2 {
		t.Errorf("heap[1] = %d, want 2", c.Heap[1])
	}
}

func TestVMDeterminism(t *testing.T) {
	prog := NewProgram(
		Push(0), Push(5), Simple(OpStore),
		WithLabel(OpRegister, "loop"),
		Push(0), Simple(OpRetrieve), Simple(OpDuplicate),
		WithLabel(OpBranchZero, "done"),
		Push(1), Simple(OpSwap), Simple(OpSub),
		Push(0), Simple(OpSwap), Simple(OpStore),
		WithLabel(OpJump, "loop"),
		WithLabel(OpRegister, "done"),
	)
	first, second := NewContext(), NewContext()
	if err := New(prog).Run(context.Background(), first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := New(prog).Run(context.Background(), second); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !slices.Equal(first.Stack, second.Stack) {
		t.Errorf("stacks differ: %v vs %v", first.Stack, second.Stack)
	}
	if len(first.Heap) != len(second.Heap) || first.Heap[0] != second.Heap[0] {
		t.Errorf("heaps differ: %v vs %v", first.Heap, second.Heap)
	}
	if first.Heap[0] != 0 {
		t.Errorf("heap[0] = %d, want 0", first.Heap[0])
	}
}

func TestContextReset(t *testing.T) {
	c := run(t, nil, Push(1), Push(2), Push(3), Simple(OpStore), WithLabel(OpRegister, "0"))
	c.Reset()
	if c.Counter != 0 || len(c.Stack) != 0 || len(c.Heap) != 0 || len(c.Labels) != 0 || len(c.Calls) != 0 {
		t.Errorf("Reset left state: %+v", c)
	}
}
