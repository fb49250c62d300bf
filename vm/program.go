package vm

import (
	"fmt"
	"strconv"
)

// Instruction is a single decoded instruction.
// Value is used by PUSH, COPY and SLIDE; Label by LABEL, CALL, JUMP, JZ and JN.
type Instruction struct {
	Op    Opcode `cbor:"1,keyasint"`
	Value int64  `cbor:"2,keyasint,omitempty"`
	Label string `cbor:"3,keyasint,omitempty"`
}

// Push returns a PUSH instruction.
func Push(v int64) Instruction { return Instruction{Op: OpPush, Value: v} }

// WithValue returns an instruction carrying a numeric operand.
func WithValue(op Opcode, v int64) Instruction { return Instruction{Op: op, Value: v} }

// WithLabel returns an instruction carrying a label operand.
func WithLabel(op Opcode, label string) Instruction { return Instruction{Op: op, Label: label} }

// Simple returns an instruction without operand.
func Simple(op Opcode) Instruction { return Instruction{Op: op} }

// String renders the instruction as "MNEMONIC operand".
func (i Instruction) String() string {
	switch i.Op.Operand() {
	case OperandNumber:
		return i.Op.String() + " " + strconv.FormatInt(i.Value, 10)
	case OperandLabel:
		return i.Op.String() + " " + labelDisplay(i.Label)
	default:
		return i.Op.String()
	}
}

// labelDisplay renders a label identifier, marking the empty label.
func labelDisplay(label string) string {
	if label == "" {
		return `""`
	}
	return label
}

// SourceLocation maps an instruction to the position of its first symbol in
// the raw source text.
type SourceLocation struct {
	Offset int `cbor:"1,keyasint"` // Byte offset (0-based)
	Line   int `cbor:"2,keyasint"` // Line number (1-based)
	Column int `cbor:"3,keyasint"` // Column number (1-based, in runes)
}

// String returns "line:col".
func (l SourceLocation) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Program is a compiled instruction sequence. The index into Code is the
// unit of control-flow addressing.
type Program struct {
	Code []Instruction

	// Debug information, optional. When present SourceMap[i] locates Code[i].
	SourceMap []SourceLocation
}

// NewProgram creates a program from instructions without debug information.
func NewProgram(code ...Instruction) *Program {
	return &Program{Code: code}
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Code)
}

// HasDebugInfo reports whether a source map covering every instruction is present.
func (p *Program) HasDebugInfo() bool {
	return p != nil && len(p.SourceMap) == len(p.Code) && len(p.Code) > 0
}

// Location returns the source location of instruction i, if known.
func (p *Program) Location(i int) (SourceLocation, bool) {
	if !p.HasDebugInfo() || i < 0 || i >= len(p.SourceMap) {
		return SourceLocation{}, false
	}
	return p.SourceMap[i], true
}

// Labels returns the label table that the registration pre-pass would build.
func (p *Program) Labels() map[string]int {
	labels := make(map[string]int)
	for i, inst := range p.Code {
		if inst.Op == OpRegister {
			labels[inst.Label] = i
		}
	}
	return labels
}

// Validate checks that every opcode is defined and every referenced label
// is registered somewhere in the program. The VM does not require this;
// an unresolved label only fails when the referring instruction executes.
func (p *Program) Validate() error {
	labels := p.Labels()
	for i, inst := range p.Code {
		if !inst.Op.Valid() {
			return fmt.Errorf("instruction %d: unknown opcode %d", i, uint8(inst.Op))
		}
		if inst.Op.IsJump() {
			if _, ok := labels[inst.Label]; !ok {
				return fmt.Errorf("instruction %d: %s: %w", i, inst, ErrUndefinedLabel)
			}
		}
	}
	return nil
}
