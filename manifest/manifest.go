// Package manifest handles whiteplanes.toml configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the name FindAndLoad looks for.
const FileName = "whiteplanes.toml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Manifest represents a whiteplanes.toml configuration.
type Manifest struct {
	Run    RunConfig    `toml:"run" json:"run"`
	Log    LogConfig    `toml:"log" json:"log"`
	Cache  CacheConfig  `toml:"cache" json:"cache"`
	Server ServerConfig `toml:"server" json:"server"`

	// Dir is the directory containing the whiteplanes.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// RunConfig limits program execution.
type RunConfig struct {
	MaxSteps int    `toml:"max-steps" json:"max-steps"`
	Timeout  string `toml:"timeout" json:"timeout"`
	Trace    bool   `toml:"trace" json:"trace"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// CacheConfig locates the compiled program cache.
type CacheConfig struct {
	Path string `toml:"path" json:"path"`
}

// ServerConfig configures the remote execution service.
type ServerConfig struct {
	Addr     string `toml:"addr" json:"addr"`
	GRPCAddr string `toml:"grpc-addr" json:"grpc-addr"`
	Workers  int    `toml:"workers" json:"workers"`
}

// Default returns the configuration used when no whiteplanes.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Run.Timeout == "" {
		m.Run.Timeout = "0s"
	}
	if m.Server.Addr == "" {
		m.Server.Addr = ":4567"
	}
	if m.Server.Workers == 0 {
		m.Server.Workers = 4
	}
}

// Load parses the whiteplanes.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses and validates a configuration file at an explicit path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes TOML, applies defaults and validates the result.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a whiteplanes.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the manifest against the configuration schema.
func (m *Manifest) Validate() error {
	if err := validateSchema(m); err != nil {
		return err
	}
	if _, err := time.ParseDuration(m.Run.Timeout); err != nil {
		return fmt.Errorf("%w: run.timeout: %v", ErrInvalid, err)
	}
	return nil
}

// Timeout returns the run timeout, zero meaning none.
func (m *Manifest) Timeout() time.Duration {
	d, err := time.ParseDuration(m.Run.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// CachePath returns the cache database path resolved against Dir, or ""
// when the cache is disabled.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogFile returns the log file path resolved against Dir, or "" for stderr.
func (m *Manifest) LogFile() string {
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
