package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[run]
max-steps = 100000
timeout = "2s"
trace = true

[log]
verbosity = 2
file = "wsp.log"

[cache]
path = ".whiteplanes/cache.db"

[server]
addr = "127.0.0.1:9000"
grpc-addr = ":9001"
workers = 8
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Run.MaxSteps != 100000 {
		t.Errorf("run max-steps = %d, want 100000", m.Run.MaxSteps)
	}
	if m.Timeout() != 2*time.Second {
		t.Errorf("run timeout = %v, want 2s", m.Timeout())
	}
	if !m.Run.Trace {
		t.Error("run trace = false, want true")
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if m.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("server addr = %q", m.Server.Addr)
	}
	if m.Server.GRPCAddr != ":9001" {
		t.Errorf("server grpc-addr = %q", m.Server.GRPCAddr)
	}
	if m.Server.Workers != 8 {
		t.Errorf("server workers = %d, want 8", m.Server.Workers)
	}

	absDir, _ := filepath.Abs(dir)
	if m.Dir != absDir {
		t.Errorf("Dir = %q, want %q", m.Dir, absDir)
	}
	if want := filepath.Join(absDir, ".whiteplanes", "cache.db"); m.CachePath() != want {
		t.Errorf("CachePath = %q, want %q", m.CachePath(), want)
	}
	if want := filepath.Join(absDir, "wsp.log"); m.LogFile() != want {
		t.Errorf("LogFile = %q, want %q", m.LogFile(), want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[run]\ntrace = false\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Run.Timeout != "0s" || m.Timeout() != 0 {
		t.Errorf("run timeout = %q, want 0s", m.Run.Timeout)
	}
	if m.Server.Addr != ":4567" {
		t.Errorf("server addr = %q, want :4567", m.Server.Addr)
	}
	if m.Server.Workers != 4 {
		t.Errorf("server workers = %d, want 4", m.Server.Workers)
	}
	if m.CachePath() != "" {
		t.Errorf("CachePath = %q, want empty", m.CachePath())
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative max-steps", "[run]\nmax-steps = -1\n"},
		{"bad timeout", "[run]\ntimeout = \"soon\"\n"},
		{"negative timeout", "[run]\ntimeout = \"-5s\"\n"},
		{"verbosity too high", "[log]\nverbosity = 9\n"},
		{"negative workers", "[server]\nworkers = -2\n"},
		{"unknown key", "[run]\nmax-step = 5\n"},
		{"unknown section", "[project]\nname = \"x\"\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tc.content)
			_, err := Load(dir)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadManifestParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[run\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[run]\nmax-steps = 7\n")

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil, want manifest")
	}
	if m.Run.MaxSteps != 7 {
		t.Errorf("max-steps = %d, want 7", m.Run.MaxSteps)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	// A manifest above the temp dir would be picked up; only check when absent.
	if m != nil && m.Dir == dir {
		t.Error("found a manifest in an empty directory")
	}
}

func TestLoadFileExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(path, []byte("[server]\nworkers = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if m.Server.Workers != 2 {
		t.Errorf("workers = %d, want 2", m.Server.Workers)
	}
}
