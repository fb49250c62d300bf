package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/whiteplanes/store"
)

// Server exposes the interpreter over Connect (HTTP) and, optionally, gRPC.
type Server struct {
	service *RunService
	pool    *RunPool
	mux     *http.ServeMux
	grpc    *grpc.Server
	log     commonlog.Logger
}

// Limits applied to every run unless configured otherwise. A served program
// always runs under both.
const (
	DefaultMaxSteps = 10_000_000
	DefaultTimeout  = 10 * time.Second
)

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers  int
	maxSteps int
	timeout  time.Duration
	store    *store.Store
}

// WithWorkers sets the number of programs that may run at once.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithMaxSteps caps every run at n executed instructions. n <= 0 keeps
// DefaultMaxSteps.
func WithMaxSteps(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithTimeout caps the wall-clock time of every run. d <= 0 keeps
// DefaultTimeout.
func WithTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStore caches compiled programs and records runs in s.
func WithStore(s *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = s }
}

// New creates a Server.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{
		workers:  4,
		maxSteps: DefaultMaxSteps,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool := NewRunPool(cfg.workers)
	svc := NewRunService(pool, cfg.store, cfg.maxSteps, cfg.timeout)

	s := &Server{
		service: svc,
		pool:    pool,
		mux:     http.NewServeMux(),
		grpc:    NewGRPCServer(svc),
		log:     commonlog.GetLogger("whiteplanes.server"),
	}
	for path, handler := range NewConnectHandlers(svc) {
		s.mux.Handle(path, handler)
	}
	return s
}

// Service returns the underlying RunService.
func (s *Server) Service() *RunService {
	return s.service
}

// Handler returns the HTTP handler serving the Connect endpoints.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	s.log.Noticef("whiteplanes server listening on %s", addr)
	s.log.Noticef("  Connect (CBOR): http://%s%s", addr, RunProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// ServeGRPC serves the gRPC endpoint on lis until Stop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	s.log.Noticef("gRPC (cbor) listening on %s", lis.Addr())
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop shuts down the gRPC server and the run pool.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	s.pool.Stop()
}
