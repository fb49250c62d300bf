package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/whiteplanes/compiler"
	"github.com/chazu/whiteplanes/store"
	"github.com/chazu/whiteplanes/vm"
	"github.com/chazu/whiteplanes/vm/dist"
)

// RunService compiles and executes programs on behalf of remote callers.
// Errors are *connect.Error values; the gRPC transport converts them to
// status errors.
type RunService struct {
	pool     *RunPool
	store    *store.Store // Optional program cache and run log
	maxSteps int
	timeout  time.Duration
	log      commonlog.Logger
}

// NewRunService creates a RunService executing on pool.
func NewRunService(pool *RunPool, cache *store.Store, maxSteps int, timeout time.Duration) *RunService {
	return &RunService{
		pool:     pool,
		store:    cache,
		maxSteps: maxSteps,
		timeout:  timeout,
		log:      commonlog.GetLogger("whiteplanes.server"),
	}
}

// Run compiles the request's program and executes it on a fresh Context.
func (s *RunService) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if req == nil || (req.Source == "" && len(req.Program) == 0) {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("source or program is required"))
	}
	if req.Source != "" && len(req.Program) != 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("source and program are exclusive"))
	}

	prog, hash, err := s.load(req)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.pool.Do(ctx, func() (any, error) {
		return s.execute(ctx, prog, req), nil
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return nil, connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, ErrPoolStopped):
		return nil, connect.NewError(connect.CodeUnavailable, err)
	case err != nil:
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := result.(*runResult)

	if s.store != nil {
		rec := &store.Run{
			ID:          resp.RunID,
			Hash:        hash,
			Started:     resp.started,
			Duration:    resp.duration,
			Steps:       resp.Steps,
			OutputBytes: len(resp.Output),
		}
		if resp.Fault != nil {
			rec.Fault = resp.Fault.Kind
		}
		if err := s.store.RecordRun(rec); err != nil {
			s.log.Warningf("recording run %s: %s", resp.RunID, err)
		}
	}

	return &resp.RunResponse, nil
}

// Check compiles source and reports diagnostics and a listing.
func (s *RunService) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	if req == nil || req.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("source is required"))
	}

	prog, diags := Diagnose(req.Source)
	resp := &CheckResponse{Valid: prog != nil, Diagnostics: diags}
	if prog != nil {
		resp.Instructions = prog.Len()
		resp.Listing = prog.Disassemble()
	}
	return resp, nil
}

// load resolves the request to a program and its source hash.
func (s *RunService) load(req *RunRequest) (*vm.Program, [32]byte, error) {
	if len(req.Program) != 0 {
		prog, hash, err := dist.UnmarshalProgram(req.Program)
		if err != nil {
			return nil, hash, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return prog, hash, nil
	}

	var (
		prog *vm.Program
		hash [32]byte
		err  error
	)
	if s.store != nil {
		prog, hash, err = s.store.Compile(req.Source)
	} else {
		prog, hash, err = dist.CompileSource(req.Source)
	}
	if err != nil {
		if errors.Is(err, compiler.ErrSyntax) {
			return nil, hash, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, hash, connect.NewError(connect.CodeInternal, err)
	}
	return prog, hash, nil
}

// runResult carries timing alongside the response.
type runResult struct {
	RunResponse
	started  time.Time
	duration time.Duration
}

// execute runs prog on a fresh VM and Context. Called on a pool worker.
func (s *RunService) execute(ctx context.Context, prog *vm.Program, req *RunRequest) *runResult {
	maxSteps := s.maxSteps
	if req.MaxSteps > 0 && (maxSteps == 0 || req.MaxSteps < maxSteps) {
		maxSteps = req.MaxSteps
	}

	var out bytes.Buffer
	io := vm.NewStreamIO(strings.NewReader(req.Input), &out)

	machine := vm.New(prog, vm.WithMaxSteps(maxSteps))
	machine.SetInteractor(io)
	c := vm.NewContext()

	res := &runResult{started: time.Now()}
	res.RunID = store.NewRunID()

	err := machine.Run(ctx, c)
	if flushErr := io.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	res.duration = time.Since(res.started)

	res.Output = out.String()
	res.Stack = c.Stack
	if len(c.Heap) > 0 {
		res.Heap = c.Heap
	}
	res.Steps = machine.Steps()

	if err != nil {
		res.Fault = faultFor(prog, err)
		s.log.Debugf("run %s: %s", res.RunID, err)
	}
	return res
}

// faultFor describes a run error, locating it in the source when possible.
func faultFor(prog *vm.Program, err error) *Fault {
	f := &Fault{Kind: vm.KindName(err), Message: err.Error()}
	var re *vm.RuntimeError
	if errors.As(err, &re) {
		f.Counter = re.Counter
		if loc, ok := prog.Location(re.Counter); ok {
			f.Line = loc.Line
			f.Column = loc.Column
		}
	}
	return f
}

// Diagnose compiles src and reports syntax errors and references to labels
// that are never defined. The program is nil when compilation fails.
func Diagnose(src string) (*vm.Program, []Diagnostic) {
	prog, err := compiler.Compile(src)
	if err != nil {
		d := Diagnostic{Severity: "error", Message: err.Error()}
		var se *compiler.SyntaxError
		if errors.As(err, &se) {
			d.Message = fmt.Sprintf("%s %s", se.Msg, se.Region)
			d.Line = se.Pos.Line
			d.Column = se.Pos.Column
		}
		return nil, []Diagnostic{d}
	}

	var diags []Diagnostic
	labels := prog.Labels()
	for i, inst := range prog.Code {
		if !inst.Op.IsJump() {
			continue
		}
		if _, ok := labels[inst.Label]; ok {
			continue
		}
		d := Diagnostic{Severity: "warning", Message: fmt.Sprintf("%s: %s", inst, vm.ErrUndefinedLabel)}
		if loc, ok := prog.Location(i); ok {
			d.Line = loc.Line
			d.Column = loc.Column
		}
		diags = append(diags, d)
	}
	return prog, diags
}
