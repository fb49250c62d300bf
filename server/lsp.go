package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/whiteplanes/compiler"
	"github.com/chazu/whiteplanes/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "whiteplanes-lsp"

// LspServer publishes syntax diagnostics and instruction hovers for
// Whitespace documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
		log:     commonlog.GetLogger("whiteplanes.lsp"),
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("whiteplanes LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return hoverAt(text, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	r, ok := definitionAt(text, params.Position)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: params.TextDocument.URI, Range: r}}, nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: lspDiagnostics(text),
	})
}

// lspDiagnostics converts Diagnose results to LSP form.
func lspDiagnostics(text string) []protocol.Diagnostic {
	_, diags := Diagnose(text)
	out := make([]protocol.Diagnostic, 0, len(diags))
	source := lspName
	for _, d := range diags {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == "warning" {
			severity = protocol.DiagnosticSeverityWarning
		}
		out = append(out, protocol.Diagnostic{
			Range:    pointRange(d.Line, d.Column),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

// --- Source positions ---

// hoverAt describes the instruction under pos.
func hoverAt(text string, pos protocol.Position) *protocol.Hover {
	prog, err := compiler.Compile(text)
	if err != nil {
		return nil
	}
	i, ok := instructionAt(prog, offsetAt(text, pos))
	if !ok {
		return nil
	}

	inst := prog.Code[i]
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", inst)
	fmt.Fprintf(&b, "`%s`\n\n", vm.DisassembleInstruction(inst))
	fmt.Fprintf(&b, "Instruction %d of %d", i, prog.Len())
	if inst.Op.IsJump() {
		if target, ok := prog.Labels()[inst.Label]; ok {
			loc, _ := prog.Location(target)
			fmt.Fprintf(&b, "\n\nTarget: instruction %d (line %s)", target, loc)
		} else {
			b.WriteString("\n\nTarget: undefined label")
		}
	}

	loc, _ := prog.Location(i)
	r := pointRange(loc.Line, loc.Column)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
		Range: &r,
	}
}

// definitionAt finds the LABEL targeted by the flow instruction under pos.
func definitionAt(text string, pos protocol.Position) (protocol.Range, bool) {
	prog, err := compiler.Compile(text)
	if err != nil {
		return protocol.Range{}, false
	}
	i, ok := instructionAt(prog, offsetAt(text, pos))
	if !ok {
		return protocol.Range{}, false
	}
	inst := prog.Code[i]
	if inst.Op != vm.OpRegister && !inst.Op.IsJump() {
		return protocol.Range{}, false
	}
	target, ok := prog.Labels()[inst.Label]
	if !ok {
		return protocol.Range{}, false
	}
	loc, _ := prog.Location(target)
	return pointRange(loc.Line, loc.Column), true
}

// instructionAt returns the last instruction starting at or before offset.
func instructionAt(prog *vm.Program, offset int) (int, bool) {
	if !prog.HasDebugInfo() || offset < 0 {
		return 0, false
	}
	i := sort.Search(len(prog.SourceMap), func(i int) bool {
		return prog.SourceMap[i].Offset > offset
	}) - 1
	if i < 0 {
		return 0, false
	}
	return i, true
}

// offsetAt converts an LSP position to a byte offset in text, or -1 when
// the position is past the end. Characters are counted in runes.
func offsetAt(text string, pos protocol.Position) int {
	line := 0
	offset := 0
	for line < int(pos.Line) {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return -1
		}
		offset += nl + 1
		line++
	}
	for col := 0; col < int(pos.Character); col++ {
		if offset >= len(text) || text[offset] == '\n' {
			return -1
		}
		_, size := utf8.DecodeRuneInString(text[offset:])
		offset += size
	}
	return offset
}

// pointRange returns a one-character range at a 1-based line and column.
// Zero values map to the start of the document.
func pointRange(line, column int) protocol.Range {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}
	start := protocol.Position{Line: protocol.UInteger(line - 1), Character: protocol.UInteger(column - 1)}
	end := start
	end.Character++
	return protocol.Range{Start: start, End: end}
}

func boolPtr(b bool) *bool {
	return &b
}
