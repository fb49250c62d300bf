package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/whiteplanes/vm"
)

// Encode renders a program back to Whitespace source. Compiling the result
// yields the same instructions. Negative literals cannot be represented
// because literals carry no sign.
func Encode(prog *vm.Program) (string, error) {
	var sb strings.Builder
	for i, inst := range prog.Code {
		if !inst.Op.Valid() {
			return "", fmt.Errorf("instruction %d: unknown opcode %d", i, uint8(inst.Op))
		}
		sb.WriteString(FromLetters(inst.Op.Prefix()))

		switch inst.Op.Operand() {
		case vm.OperandNumber:
			if inst.Value < 0 {
				return "", fmt.Errorf("instruction %d: %s: negative literal", i, inst)
			}
			writeDigits(&sb, strconv.FormatInt(inst.Value, 2))
		case vm.OperandLabel:
			for j := 0; j < len(inst.Label); j++ {
				if c := inst.Label[j]; c != '0' && c != '1' {
					return "", fmt.Errorf("instruction %d: label %q is not binary", i, inst.Label)
				}
			}
			writeDigits(&sb, inst.Label)
		}
	}
	return sb.String(), nil
}

// writeDigits writes a binary digit string followed by its terminator.
func writeDigits(sb *strings.Builder, digits string) {
	for j := 0; j < len(digits); j++ {
		if digits[j] == '1' {
			sb.WriteByte(byte(SymbolTab))
		} else {
			sb.WriteByte(byte(SymbolSpace))
		}
	}
	sb.WriteByte(byte(SymbolLine))
}

// FromLetters converts S/T/N notation to Whitespace source. Any other
// character is dropped, so "SS STSS N" is fine.
func FromLetters(letters string) string {
	var sb strings.Builder
	for i := 0; i < len(letters); i++ {
		if s := symbolFromLetter(letters[i]); s != SymbolNone {
			sb.WriteByte(byte(s))
		}
	}
	return sb.String()
}

// ToLetters converts Whitespace source to S/T/N notation, dropping commentary.
func ToLetters(src string) string {
	filtered := Filter(src)
	out := make([]byte, len(filtered))
	for i := 0; i < len(filtered); i++ {
		out[i] = Symbol(filtered[i]).Letter()
	}
	return string(out)
}
