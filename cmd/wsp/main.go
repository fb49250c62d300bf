// whiteplanes CLI - runs, compiles and serves Whitespace programs
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"

	"github.com/chazu/whiteplanes/manifest"
	"github.com/chazu/whiteplanes/server"
	"github.com/chazu/whiteplanes/store"
	"github.com/chazu/whiteplanes/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging (at least info level)")
	trace := flag.Bool("trace", false, "Log every executed instruction at debug level")
	configPath := flag.String("config", "", "Path to whiteplanes.toml (default: search upward from the working directory)")
	maxSteps := flag.Int("max-steps", 0, "Abort after this many executed instructions (0 = unlimited)")
	timeout := flag.Duration("timeout", 0, "Abort after this much wall-clock time (0 = unlimited)")
	disasm := flag.Bool("d", false, "Print a disassembly listing instead of running")
	output := flag.String("o", "", "Compile to a .wsc program file instead of running")
	letters := flag.Bool("letters", false, "Read source in S/T/N notation")
	profile := flag.Int("profile", 0, "After the run, report the N most executed instructions on stderr")
	cachePath := flag.String("cache", "", "Compiled program cache database")
	serveMode := flag.Bool("serve", false, "Start the remote execution server (Connect HTTP)")
	addr := flag.String("addr", "", "Connect listen address (used with -serve)")
	grpcAddr := flag.String("grpc", "", "Also serve gRPC on this address (used with -serve)")
	workers := flag.Int("workers", 0, "Programs that may run at once (used with -serve)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	interactive := flag.Bool("i", false, "Start an interactive session")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wsp [options] <program.ws|program.wsc>\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Whitespace program with stdin and stdout as its terminal.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  wsp hello.ws                    # Run a program\n")
		fmt.Fprintf(os.Stderr, "  wsp -d hello.ws                 # Show the instruction listing\n")
		fmt.Fprintf(os.Stderr, "  wsp -o hello.wsc hello.ws       # Compile once, run later with wsp hello.wsc\n")
		fmt.Fprintf(os.Stderr, "  wsp -letters prog.txt           # Source written as S, T and N\n")
		fmt.Fprintf(os.Stderr, "  wsp -i                          # Interactive session\n")
		fmt.Fprintf(os.Stderr, "  wsp -profile 10 loop.ws         # Report the 10 hottest instructions\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  wsp -serve                      # Connect on :4567\n")
		fmt.Fprintf(os.Stderr, "  wsp -serve -grpc :4568          # Connect and gRPC\n")
		fmt.Fprintf(os.Stderr, "  wsp -lsp                        # Language server on stdio\n")
	}
	flag.Parse()

	m, err := loadManifest(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	// Explicit flags override the manifest.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "trace":
			m.Run.Trace = *trace
		case "max-steps":
			m.Run.MaxSteps = *maxSteps
		case "timeout":
			m.Run.Timeout = timeout.String()
		case "cache":
			m.Cache.Path, _ = filepath.Abs(*cachePath)
		case "addr":
			m.Server.Addr = *addr
		case "grpc":
			m.Server.GRPCAddr = *grpcAddr
		case "workers":
			m.Server.Workers = *workers
		}
	})
	if err := m.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	configureLogging(m, *verbose)
	log := commonlog.GetLogger("whiteplanes.cli")

	var cache *store.Store
	if path := m.CachePath(); path != "" {
		cache, err = store.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			atexit.Exit(1)
		}
		atexit.Register(func() { cache.Close() })
		log.Infof("program cache: %s", cache.Path())
	}

	// Start language server if requested
	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			atexit.Exit(1)
		}
		atexit.Exit(0)
	}

	// Start execution server if requested
	if *serveMode {
		if err := serve(m, cache); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			atexit.Exit(1)
		}
		atexit.Exit(0)
	}

	// Start interactive session if requested
	if *interactive {
		repl(m)
		atexit.Exit(0)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		atexit.Exit(2)
	}
	path := flag.Arg(0)

	prog, hash, err := loadProgram(path, *letters, cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	if *disasm {
		fmt.Print(prog.DisassembleWithName(path))
		atexit.Exit(0)
	}

	if *output != "" {
		if err := writeProgram(*output, hash, prog); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			atexit.Exit(1)
		}
		log.Infof("wrote %s (%d instructions)", *output, prog.Len())
		atexit.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	atexit.Register(stop)
	if d := m.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		atexit.Register(cancel)
	}

	var prof *vm.Profiler
	if *profile > 0 {
		prof = vm.NewProfiler(prog)
	}
	err = runProgram(ctx, prog, m, prof, os.Stdin, os.Stdout)
	if prof != nil {
		fmt.Fprint(os.Stderr, prof.Report(*profile))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describeFault(prog, err))
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// loadManifest reads an explicit config file, or searches upward from the
// working directory, falling back to defaults.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// configureLogging sends commonlog output to the configured file, or stderr.
func configureLogging(m *manifest.Manifest, verbose bool) {
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	if m.Run.Trace && verbosity < 3 {
		verbosity = 3
	}
	var path *string
	if f := m.LogFile(); f != "" {
		path = &f
	}
	commonlog.Configure(verbosity, path)
}

// serve runs the Connect server, plus gRPC when an address is configured,
// until the process is interrupted.
func serve(m *manifest.Manifest, cache *store.Store) error {
	opts := []server.ServerOption{
		server.WithWorkers(m.Server.Workers),
		server.WithMaxSteps(m.Run.MaxSteps),
		server.WithTimeout(m.Timeout()),
	}
	if cache != nil {
		opts = append(opts, server.WithStore(cache))
	}
	srv := server.New(opts...)
	defer srv.Stop()

	errc := make(chan error, 2)
	if m.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", m.Server.GRPCAddr)
		if err != nil {
			return err
		}
		go func() { errc <- srv.ServeGRPC(lis) }()
	}
	go func() { errc <- srv.ListenAndServe(m.Server.Addr) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	select {
	case err := <-errc:
		return err
	case <-sig:
		commonlog.GetLogger("whiteplanes.cli").Notice("shutting down")
		return nil
	}
}
