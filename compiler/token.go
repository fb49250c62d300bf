package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Symbols of the Whitespace alphabet
// ---------------------------------------------------------------------------

// Symbol is one of the three significant characters, or SymbolNone past the
// end of input.
type Symbol byte

const (
	SymbolNone  Symbol = 0
	SymbolSpace Symbol = ' '
	SymbolTab   Symbol = '\t'
	SymbolLine  Symbol = '\n'
)

// IsSymbol reports whether r is significant in source text.
func IsSymbol(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n'
}

// Letter returns the S/T/N notation used by the opcode table.
func (s Symbol) Letter() byte {
	switch s {
	case SymbolSpace:
		return 'S'
	case SymbolTab:
		return 'T'
	case SymbolLine:
		return 'N'
	default:
		return '-'
	}
}

// String returns a visible name such as "[Tab]".
func (s Symbol) String() string {
	switch s {
	case SymbolSpace:
		return "[Space]"
	case SymbolTab:
		return "[Tab]"
	case SymbolLine:
		return "[Line]"
	case SymbolNone:
		return "[EOF]"
	default:
		return fmt.Sprintf("Symbol(%d)", byte(s))
	}
}

// symbolFromLetter is the inverse of Letter.
func symbolFromLetter(b byte) Symbol {
	switch b {
	case 'S':
		return SymbolSpace
	case 'T':
		return SymbolTab
	case 'N':
		return SymbolLine
	default:
		return SymbolNone
	}
}

// Position is a location in raw source text.
type Position struct {
	Offset int // byte offset (0-based)
	Line   int // line number (1-based)
	Column int // column number (1-based, in runes)
}

// String returns "line:col".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a significant symbol with its position in the raw source.
type Token struct {
	Symbol Symbol
	Pos    Position
}
