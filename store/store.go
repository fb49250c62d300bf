// Package store keeps compiled programs and run history in SQLite.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/whiteplanes/compiler"
	"github.com/chazu/whiteplanes/vm"
	"github.com/chazu/whiteplanes/vm/dist"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested program is not cached.
var ErrNotFound = errors.New("program not found")

const schema = `
CREATE TABLE IF NOT EXISTS compiled (
	key        TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS compiled_by_hash ON compiled (hash, created_at);
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	hash         TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL,
	steps        INTEGER NOT NULL,
	output_bytes INTEGER NOT NULL,
	fault        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_by_hash ON runs (hash, started_at);
`

// Store is a SQLite-backed program cache and run log.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// Run is one recorded execution.
type Run struct {
	ID          string
	Hash        [32]byte
	Started     time.Time
	Duration    time.Duration
	Steps       int
	OutputBytes int
	Fault       string // vm.KindName of the failure, "" on success
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &Store{db: db, path: path, log: commonlog.GetLogger("whiteplanes.store")}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Rows written by Compile are keyed on the raw text so each keeps the source
// map of the text it was compiled from. Rows written by PutProgram are keyed
// on the source hash alone.
func textKey(src string) string {
	sum := sha256.Sum256([]byte(src))
	return "src:" + hex.EncodeToString(sum[:])
}

func programKey(hash [32]byte) string {
	return "prog:" + hashKey(hash)
}

// PutProgram caches a compiled program under its source hash.
func (s *Store) PutProgram(hash [32]byte, p *vm.Program) error {
	return s.put(programKey(hash), hash, p)
}

func (s *Store) put(key string, hash [32]byte, p *vm.Program) error {
	data, err := dist.MarshalProgram(hash, p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO compiled (key, hash, data, created_at) VALUES (?, ?, ?, ?)",
		key, hashKey(hash), data, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// GetProgram loads the most recently cached program with the given source
// hash. Its source map belongs to whichever text was cached last.
func (s *Store) GetProgram(hash [32]byte) (*vm.Program, error) {
	return s.get(
		"SELECT data FROM compiled WHERE hash = ? ORDER BY created_at DESC LIMIT 1",
		hashKey(hash), hash,
	)
}

func (s *Store) get(query, arg string, hash [32]byte) (*vm.Program, error) {
	var data []byte
	err := s.db.QueryRow(query, arg).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}

	p, stored, err := dist.UnmarshalProgram(data)
	if err != nil {
		return nil, err
	}
	if stored != hash {
		return nil, fmt.Errorf("program %s: stored under wrong hash", hashKey(hash)[:12])
	}
	return p, nil
}

// Compile returns the program for src, compiling and caching it on a miss.
// Texts differing only in commentary share a hash but are cached apart,
// since their source maps differ.
func (s *Store) Compile(src string) (*vm.Program, [32]byte, error) {
	hash := dist.SourceHash(src)
	key := textKey(src)

	p, err := s.get("SELECT data FROM compiled WHERE key = ?", key, hash)
	if err == nil {
		s.log.Debugf("cache hit %s", hashKey(hash)[:12])
		return p, hash, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.log.Warningf("cache read %s: %s", hashKey(hash)[:12], err)
	}

	p, err = compiler.Compile(src)
	if err != nil {
		return nil, hash, err
	}
	if err := s.put(key, hash, p); err != nil {
		s.log.Warningf("cache write %s: %s", hashKey(hash)[:12], err)
	}
	return p, hash, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// RecordRun appends a run to the log, assigning an ID if r has none.
func (s *Store) RecordRun(r *Run) error {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO runs (id, hash, started_at, duration_ns, steps, output_bytes, fault)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, hashKey(r.Hash), r.Started.UnixNano(), int64(r.Duration), r.Steps, r.OutputBytes, r.Fault,
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// RunsFor returns the runs of the program with the given source hash,
// oldest first.
func (s *Store) RunsFor(hash [32]byte) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, duration_ns, steps, output_bytes, fault
		 FROM runs WHERE hash = ? ORDER BY started_at, id`,
		hashKey(hash),
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			duration int64
		)
		if err := rows.Scan(&r.ID, &started, &duration, &r.Steps, &r.OutputBytes, &r.Fault); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Hash = hash
		r.Started = time.Unix(0, started)
		r.Duration = time.Duration(duration)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func hashKey(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}
