package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/whiteplanes/compiler"
	"github.com/chazu/whiteplanes/manifest"
	"github.com/chazu/whiteplanes/vm"
)

const (
	historyFile = ".wsp_history"
	promptMain  = "ws> "
	promptCont  = "... "
)

const replHelp = `Enter instructions in S/T/N notation (S space, T tab, N line feed).
Each entry runs against the same stack and heap; labels from earlier
entries stay defined.

  :stack   show the operand stack
  :heap    show the heap
  :list    disassemble the session program
  :reset   clear the program, stack and heap
  :quit    leave
`

// prompter reads a line from the user.
type prompter interface {
	Prompt(prompt string) (string, error)
}

// promptIO is the interactor of an interactive session. Input instructions
// prompt for a line; output goes straight to the terminal.
type promptIO struct {
	in   prompter
	out  io.Writer
	last byte // last byte written, for tidy prompts
}

func (p *promptIO) write(s string) error {
	if s == "" {
		return nil
	}
	p.last = s[len(s)-1]
	_, err := io.WriteString(p.out, s)
	return err
}

func (p *promptIO) OutputCharacter(r rune) error {
	return p.write(string(r))
}

func (p *promptIO) OutputNumber(n int64) error {
	return p.write(strconv.FormatInt(n, 10))
}

func (p *promptIO) InputCharacter() (rune, error) {
	p.newline()
	line, err := p.in.Prompt("char> ")
	if err != nil {
		return 0, err
	}
	if line == "" {
		return '\n', nil
	}
	return []rune(line)[0], nil
}

func (p *promptIO) InputNumber() (int64, error) {
	p.newline()
	line, err := p.in.Prompt("number> ")
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", line)
	}
	return n, nil
}

// newline ends a partial output line before a prompt.
func (p *promptIO) newline() {
	if p.last != 0 && p.last != '\n' {
		p.write("\n")
	}
	p.last = 0
}

// session accumulates entries into one program run against one Context.
type session struct {
	prog *vm.Program
	c    *vm.Context
	opts []vm.Option
	io   *promptIO
	out  io.Writer
}

func newSession(m *manifest.Manifest, in prompter, out io.Writer) *session {
	return &session{
		prog: vm.NewProgram(),
		c:    vm.NewContext(),
		opts: []vm.Option{vm.WithMaxSteps(m.Run.MaxSteps), vm.WithTrace(m.Run.Trace)},
		io:   &promptIO{in: in, out: out},
		out:  out,
	}
}

// eval compiles an entry, appends it to the session program and runs it.
// A faulting entry is removed again; its effects on the stack and heap stay.
func (s *session) eval(ctx context.Context, letters string) error {
	entry, err := compiler.Compile(compiler.FromLetters(letters))
	if err != nil {
		return err
	}
	start := s.prog.Len()
	s.prog.Code = append(s.prog.Code, entry.Code...)

	s.c.Counter = start
	clear(s.c.Labels)
	machine := vm.New(s.prog, s.opts...)
	machine.SetInteractor(s.io)
	err = machine.Run(ctx, s.c)
	s.io.newline()
	if err != nil {
		s.prog.Code = s.prog.Code[:start]
		return err
	}
	return nil
}

// command runs a ":" command. It returns true to end the session.
func (s *session) command(line string) (quit bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case ":quit", ":q":
		return true
	case ":help", ":h", ":?":
		fmt.Fprint(s.out, replHelp)
	case ":stack":
		fmt.Fprintf(s.out, "%v\n", s.c.Stack)
	case ":heap":
		addrs := make([]int64, 0, len(s.c.Heap))
		for a := range s.c.Heap {
			addrs = append(addrs, a)
		}
		slices.Sort(addrs)
		for _, a := range addrs {
			fmt.Fprintf(s.out, "%d: %d\n", a, s.c.Heap[a])
		}
	case ":list":
		fmt.Fprint(s.out, s.prog.DisassembleWithName("session"))
	case ":reset":
		s.prog = vm.NewProgram()
		s.c.Reset()
	default:
		fmt.Fprintf(s.out, "unknown command %s. Type :help for help.\n", line)
	}
	return false
}

// readEntry reads lines until they form a complete entry.
func readEntry(in prompter) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := in.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)

		entry := b.String()
		if strings.HasPrefix(strings.TrimSpace(entry), ":") {
			return entry, true
		}
		if _, err := compiler.Compile(compiler.FromLetters(entry)); compiler.IsIncomplete(err) {
			continue
		}
		return entry, true
	}
}

// repl runs an interactive session on the terminal.
func repl(m *manifest.Manifest) {
	fmt.Println("whiteplanes interactive mode. Type :help for help.")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	s := newSession(m, ln, os.Stdout)
	for {
		entry, ok := readEntry(ln)
		if !ok {
			fmt.Println()
			return
		}
		if strings.TrimSpace(entry) == "" {
			continue
		}
		ln.AppendHistory(entry)

		if strings.HasPrefix(strings.TrimSpace(entry), ":") {
			if s.command(entry) {
				return
			}
			continue
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err := s.eval(ctx, entry)
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}
