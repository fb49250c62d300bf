package vm

import "fmt"

// Opcode identifies an instruction kind.
// Opcodes are grouped by the instruction modification parameter (IMP) that
// introduces them in source: stack, arithmetic, heap, flow control and I/O.
type Opcode uint8

const (
	// ========================================================================
	// Stack manipulation (IMP: Space)
	// ========================================================================

	OpPush      Opcode = iota // Push literal: SS <number>
	OpCopy                    // Copy n-th item from top: STS <number>
	OpSlide                   // Keep top, drop n below it: STN <number>
	OpDuplicate               // Duplicate top: SNS
	OpSwap                    // Swap top two: SNT
	OpDiscard                 // Drop top: SNN

	// ========================================================================
	// Arithmetic (IMP: Tab Space)
	// ========================================================================

	OpAdd // TSSS
	OpSub // TSST
	OpMul // TSSN
	OpDiv // TSTS
	OpMod // TSTT

	// ========================================================================
	// Heap access (IMP: Tab Tab)
	// ========================================================================

	OpStore    // TTS
	OpRetrieve // TTT

	// ========================================================================
	// Flow control (IMP: Line)
	// ========================================================================

	OpRegister       // Mark a label: NSS <label>
	OpCall           // Call subroutine: NST <label>
	OpJump           // Unconditional jump: NSN <label>
	OpBranchZero     // Jump if popped value is zero: NTS <label>
	OpBranchNegative // Jump if popped value is negative: NTT <label>
	OpReturn         // Return from subroutine: NTN
	OpEnd            // Halt: NNN

	// ========================================================================
	// I/O (IMP: Tab Line)
	// ========================================================================

	OpOutputChar   // TNSS
	OpOutputNumber // TNST
	OpInputChar    // TNTS
	OpInputNumber  // TNTT

	opcodeCount
)

// OperandKind describes the trailing operand of an instruction.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota // no operand
	OperandNumber                    // unsigned binary literal
	OperandLabel                     // raw binary digit string
)

// OpcodeInfo provides metadata about each opcode for decoding, encoding and
// disassembly.
type OpcodeInfo struct {
	Name      string      // Mnemonic
	Prefix    string      // Source prefix in S/T/N notation
	Operand   OperandKind // Trailing operand
	StackPop  int         // Values popped from the operand stack
	StackPush int         // Values pushed onto the operand stack
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = [opcodeCount]OpcodeInfo{
	// Stack
	OpPush:      {"PUSH", "SS", OperandNumber, 0, 1},
	OpCopy:      {"COPY", "STS", OperandNumber, 0, 1},
	OpSlide:     {"SLIDE", "STN", OperandNumber, -1, 1}, // pops n+1
	OpDuplicate: {"DUP", "SNS", OperandNone, 0, 1},
	OpSwap:      {"SWAP", "SNT", OperandNone, 2, 2},
	OpDiscard:   {"DISCARD", "SNN", OperandNone, 1, 0},

	// Arithmetic
	OpAdd: {"ADD", "TSSS", OperandNone, 2, 1},
	OpSub: {"SUB", "TSST", OperandNone, 2, 1},
	OpMul: {"MUL", "TSSN", OperandNone, 2, 1},
	OpDiv: {"DIV", "TSTS", OperandNone, 2, 1},
	OpMod: {"MOD", "TSTT", OperandNone, 2, 1},

	// Heap
	OpStore:    {"STORE", "TTS", OperandNone, 2, 0},
	OpRetrieve: {"RETRIEVE", "TTT", OperandNone, 1, 1},

	// Flow control
	OpRegister:       {"LABEL", "NSS", OperandLabel, 0, 0},
	OpCall:           {"CALL", "NST", OperandLabel, 0, 0},
	OpJump:           {"JUMP", "NSN", OperandLabel, 0, 0},
	OpBranchZero:     {"JZ", "NTS", OperandLabel, 1, 0},
	OpBranchNegative: {"JN", "NTT", OperandLabel, 1, 0},
	OpReturn:         {"RET", "NTN", OperandNone, 0, 0},
	OpEnd:            {"END", "NNN", OperandNone, 0, 0},

	// I/O
	OpOutputChar:   {"OUTC", "TNSS", OperandNone, 1, 0},
	OpOutputNumber: {"OUTN", "TNST", OperandNone, 1, 0},
	OpInputChar:    {"INC", "TNTS", OperandNone, 1, 0},
	OpInputNumber:  {"INN", "TNTT", OperandNone, 1, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(n)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op < opcodeCount {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", uint8(op))}
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Prefix returns the opcode's source prefix in S/T/N notation.
func (op Opcode) Prefix() string {
	return GetOpcodeInfo(op).Prefix
}

// Operand returns the kind of operand that follows the prefix.
func (op Opcode) Operand() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// IsJump returns true if this opcode transfers control to a label.
func (op Opcode) IsJump() bool {
	return op >= OpCall && op <= OpBranchNegative
}

// IsIO returns true if this opcode calls the interactor.
func (op Opcode) IsIO() bool {
	return op >= OpOutputChar && op <= OpInputNumber
}

// AllOpcodes returns every defined opcode in declaration order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, opcodeCount)
	for op := Opcode(0); op < opcodeCount; op++ {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return int(opcodeCount)
}
