// Package dist defines the compiled program format shared by the CLI cache,
// the program store and the remote service.
package dist

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/chazu/whiteplanes/compiler"
	"github.com/chazu/whiteplanes/vm"
	"github.com/fxamacker/cbor/v2"
)

const (
	// Magic identifies a compiled program.
	Magic = "WSPC"
	// Version is the current envelope version.
	Version = 1
)

// ErrFormat is returned for data that is not a compiled program this
// version can read.
var ErrFormat = errors.New("dist: not a compiled program")

// Envelope is the serialized form of a compiled program.
type Envelope struct {
	Magic     string              `cbor:"1,keyasint"`
	Version   int                 `cbor:"2,keyasint"`
	Hash      [32]byte            `cbor:"3,keyasint"`
	Code      []vm.Instruction    `cbor:"4,keyasint"`
	SourceMap []vm.SourceLocation `cbor:"5,keyasint,omitempty"`
}

// cborEncMode uses canonical mode so equal programs encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// SourceHash returns the SHA-256 of the significant characters of src.
// Sources differing only in commentary hash the same.
func SourceHash(src string) [32]byte {
	return sha256.Sum256([]byte(compiler.Filter(src)))
}

// MarshalProgram serializes a program compiled from source with the given hash.
func MarshalProgram(hash [32]byte, p *vm.Program) ([]byte, error) {
	if p == nil {
		return nil, errors.New("dist: nil program")
	}
	return cborEncMode.Marshal(&Envelope{
		Magic:     Magic,
		Version:   Version,
		Hash:      hash,
		Code:      p.Code,
		SourceMap: p.SourceMap,
	})
}

// UnmarshalProgram deserializes a program and the hash of its source.
func UnmarshalProgram(data []byte) (*vm.Program, [32]byte, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, [32]byte{}, fmt.Errorf("dist: unmarshal program: %w", err)
	}
	if env.Magic != Magic {
		return nil, [32]byte{}, fmt.Errorf("%w: magic %q", ErrFormat, env.Magic)
	}
	if env.Version != Version {
		return nil, [32]byte{}, fmt.Errorf("%w: version %d", ErrFormat, env.Version)
	}
	for i, inst := range env.Code {
		if !inst.Op.Valid() {
			return nil, [32]byte{}, fmt.Errorf("%w: instruction %d has opcode %d", ErrFormat, i, uint8(inst.Op))
		}
	}
	if len(env.SourceMap) != 0 && len(env.SourceMap) != len(env.Code) {
		return nil, [32]byte{}, fmt.Errorf("%w: source map has %d entries for %d instructions",
			ErrFormat, len(env.SourceMap), len(env.Code))
	}
	return &vm.Program{Code: env.Code, SourceMap: env.SourceMap}, env.Hash, nil
}

// CompileSource compiles src and returns the program with its source hash.
func CompileSource(src string) (*vm.Program, [32]byte, error) {
	p, err := compiler.Compile(src)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return p, SourceHash(src), nil
}

// VerifyProgram recompiles src and checks that it produces the serialized
// program in data.
func VerifyProgram(data []byte, src string) error {
	p, hash, err := UnmarshalProgram(data)
	if err != nil {
		return err
	}
	if computed := SourceHash(src); computed != hash {
		return fmt.Errorf("dist: hash mismatch: declared %x, computed %x", hash[:8], computed[:8])
	}
	fresh, err := compiler.Compile(src)
	if err != nil {
		return fmt.Errorf("dist: compile failed: %w", err)
	}
	if len(fresh.Code) != len(p.Code) {
		return fmt.Errorf("dist: program has %d instructions, source compiles to %d", len(p.Code), len(fresh.Code))
	}
	for i := range fresh.Code {
		if fresh.Code[i] != p.Code[i] {
			return fmt.Errorf("dist: instruction %d differs: %s != %s", i, p.Code[i], fresh.Code[i])
		}
	}
	return nil
}
