package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/whiteplanes/compiler"
	"github.com/chazu/whiteplanes/manifest"
	"github.com/chazu/whiteplanes/store"
	"github.com/chazu/whiteplanes/vm"
	"github.com/chazu/whiteplanes/vm/dist"
)

// CompiledExt marks files holding a serialized program rather than source.
const CompiledExt = ".wsc"

// loadProgram reads a compiled program or compiles source, going through
// the cache when one is open.
func loadProgram(path string, letters bool, cache *store.Store) (*vm.Program, [32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [32]byte{}, err
	}

	if strings.EqualFold(filepath.Ext(path), CompiledExt) {
		prog, hash, err := dist.UnmarshalProgram(data)
		if err != nil {
			return nil, hash, fmt.Errorf("%s: %w", path, err)
		}
		return prog, hash, nil
	}

	src := string(data)
	if letters {
		src = compiler.FromLetters(src)
	}

	var (
		prog *vm.Program
		hash [32]byte
	)
	if cache != nil {
		prog, hash, err = cache.Compile(src)
	} else {
		prog, hash, err = dist.CompileSource(src)
	}
	if err != nil {
		return nil, hash, fmt.Errorf("%s: %w", path, err)
	}
	return prog, hash, nil
}

// writeProgram serializes prog to path.
func writeProgram(path string, hash [32]byte, prog *vm.Program) error {
	data, err := dist.MarshalProgram(hash, prog)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// runProgram executes prog with in and out as its terminal. prof may be nil.
func runProgram(ctx context.Context, prog *vm.Program, m *manifest.Manifest, prof *vm.Profiler, in io.Reader, out io.Writer) error {
	terminal := vm.NewStreamIO(in, out)
	opts := []vm.Option{
		vm.WithMaxSteps(m.Run.MaxSteps),
		vm.WithTrace(m.Run.Trace),
	}
	if prof != nil {
		opts = append(opts, vm.WithProfiler(prof))
	}
	machine := vm.New(prog, opts...)
	machine.SetInteractor(terminal)

	err := machine.Run(ctx, vm.NewContext())
	if flushErr := terminal.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// describeFault renders a run error with its source position when the
// program carries one.
func describeFault(prog *vm.Program, err error) string {
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		return err.Error()
	}
	if loc, ok := prog.Location(re.Counter); ok {
		return fmt.Sprintf("%s (line %s)", err, loc)
	}
	return err.Error()
}
