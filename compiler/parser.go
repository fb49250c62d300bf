package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/whiteplanes/vm"
)

// ---------------------------------------------------------------------------
// Parser: decodes significant symbols into instructions
// ---------------------------------------------------------------------------

// ErrSyntax is matched by every SyntaxError.
var ErrSyntax = errors.New("syntax error")

// SyntaxError reports malformed source. Offset counts significant symbols;
// Pos locates the first offending symbol in the raw text.
type SyntaxError struct {
	Offset int
	Pos    Position
	Region string // Offending symbols, e.g. "[Tab][Line][Line]"
	Msg    string

	// Incomplete is set when the source ended inside an instruction, so
	// appending more symbols could make it valid.
	Incomplete bool
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s (symbol %d): %s %s", e.Pos, e.Offset, e.Msg, e.Region)
}

// Is makes errors.Is(err, ErrSyntax) hold.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// IsIncomplete reports whether err is a SyntaxError caused by source that
// ends mid-instruction.
func IsIncomplete(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se) && se.Incomplete
}

// maxPrefixLen is the longest opcode prefix.
const maxPrefixLen = 4

// prefixTable maps S/T/N prefixes to opcodes, built from the VM's opcode table.
var prefixTable = buildPrefixTable()

// partialPrefixes holds every proper, non-empty prefix of an opcode prefix.
var partialPrefixes = func() map[string]bool {
	m := make(map[string]bool)
	for prefix := range prefixTable {
		for n := 1; n < len(prefix); n++ {
			m[prefix[:n]] = true
		}
	}
	return m
}()

func buildPrefixTable() map[string]vm.Opcode {
	table := make(map[string]vm.Opcode, vm.OpcodeCount())
	for _, op := range vm.AllOpcodes() {
		table[op.Prefix()] = op
	}
	return table
}

// Parser decodes a token stream into a program.
type Parser struct {
	tokens  []Token
	current int
}

// NewParser creates a parser over significant tokens.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Compile filters src and decodes it into a program with a source map.
func Compile(src string) (*vm.Program, error) {
	return NewParser(Scan(src)).Parse()
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *vm.Program {
	prog, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return prog
}

// Parse decodes every token. On error no program is returned.
func (p *Parser) Parse() (*vm.Program, error) {
	prog := &vm.Program{
		Code:      make([]vm.Instruction, 0, len(p.tokens)/4),
		SourceMap: make([]vm.SourceLocation, 0, len(p.tokens)/4),
	}

	for p.current < len(p.tokens) {
		start := p.current
		op, ok := p.match()
		if !ok {
			se := p.errorAt(start, maxPrefixLen, "unknown instruction")
			se.Incomplete = p.atPartialPrefix()
			return nil, se
		}
		p.current += len(op.Prefix())

		inst := vm.Instruction{Op: op}
		switch op.Operand() {
		case vm.OperandNumber:
			digits, err := p.literal(start)
			if err != nil {
				return nil, err
			}
			inst.Value, err = p.number(start, digits)
			if err != nil {
				return nil, err
			}
		case vm.OperandLabel:
			digits, err := p.literal(start)
			if err != nil {
				return nil, err
			}
			inst.Label = digits
		}

		pos := p.tokens[start].Pos
		prog.Code = append(prog.Code, inst)
		prog.SourceMap = append(prog.SourceMap, vm.SourceLocation{
			Offset: pos.Offset,
			Line:   pos.Line,
			Column: pos.Column,
		})
	}

	return prog, nil
}

// window returns the next four symbols, SymbolNone past the end.
func (p *Parser) window() [maxPrefixLen]Symbol {
	var w [maxPrefixLen]Symbol
	for i := range w {
		if p.current+i < len(p.tokens) {
			w[i] = p.tokens[p.current+i].Symbol
		}
	}
	return w
}

// match finds the longest opcode prefix at the cursor.
func (p *Parser) match() (vm.Opcode, bool) {
	w := p.window()
	var key [maxPrefixLen]byte
	for i, s := range w {
		key[i] = s.Letter()
	}
	for n := maxPrefixLen; n >= 2; n-- {
		if op, ok := prefixTable[string(key[:n])]; ok {
			return op, true
		}
	}
	return 0, false
}

// atPartialPrefix reports whether the remaining symbols could still begin
// an instruction.
func (p *Parser) atPartialPrefix() bool {
	rest := p.tokens[p.current:]
	if len(rest) >= maxPrefixLen {
		return false
	}
	var sb strings.Builder
	for _, tok := range rest {
		sb.WriteByte(tok.Symbol.Letter())
	}
	return partialPrefixes[sb.String()]
}

// literal reads binary digits up to and including the terminating line feed.
// Space is 0 and tab is 1.
func (p *Parser) literal(start int) (string, error) {
	var sb strings.Builder
	for p.current < len(p.tokens) {
		sym := p.tokens[p.current].Symbol
		p.current++
		switch sym {
		case SymbolSpace:
			sb.WriteByte('0')
		case SymbolTab:
			sb.WriteByte('1')
		case SymbolLine:
			return sb.String(), nil
		}
	}
	se := p.errorAt(start, p.current-start+1, "unterminated operand")
	se.Incomplete = true
	return "", se
}

// number converts an unsigned binary digit string. The empty string is 0.
func (p *Parser) number(start int, digits string) (int64, error) {
	if digits == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(digits, 2, 64)
	if err != nil {
		return 0, p.errorAt(start, p.current-start, "literal out of range")
	}
	return n, nil
}

// errorAt builds a SyntaxError covering up to n symbols from start.
func (p *Parser) errorAt(start, n int, msg string) *SyntaxError {
	var region strings.Builder
	for i := start; i < start+n && i < len(p.tokens); i++ {
		region.WriteString(p.tokens[i].Symbol.String())
	}
	if start+n > len(p.tokens) {
		region.WriteString(SymbolNone.String())
	}
	return &SyntaxError{
		Offset: start,
		Pos:    p.tokens[start].Pos,
		Region: region.String(),
		Msg:    msg,
	}
}
