package compiler

import (
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: drops commentary, keeps space, tab and line feed
// ---------------------------------------------------------------------------

// Filter returns the significant characters of src in order.
// Everything else, including carriage returns, is commentary.
func Filter(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))
	for i := 0; i < len(src); i++ {
		// Significant symbols are ASCII, so bytes of multi-byte runes never match.
		if c := src[i]; c == ' ' || c == '\t' || c == '\n' {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Lexer walks raw source text and yields significant symbols with their
// positions.
type Lexer struct {
	input string
	pos   int // current byte offset
	line  int // current line (1-based)
	col   int // current column (1-based)
}

// NewLexer creates a lexer for src.
func NewLexer(src string) *Lexer {
	return &Lexer{input: src, line: 1, col: 1}
}

// Next returns the next significant token. ok is false at end of input.
func (l *Lexer) Next() (tok Token, ok bool) {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		pos := Position{Offset: l.pos, Line: l.line, Column: l.col}

		l.pos += size
		if r == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}

		if IsSymbol(r) {
			return Token{Symbol: Symbol(r), Pos: pos}, true
		}
	}
	return Token{}, false
}

// Scan returns all significant tokens of src.
func Scan(src string) []Token {
	l := NewLexer(src)
	tokens := make([]Token, 0, len(src)/2)
	for {
		tok, ok := l.Next()
		if !ok {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}
