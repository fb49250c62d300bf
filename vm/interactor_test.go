package vm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestStreamIOOutput(t *testing.T) {
	var out bytes.Buffer
	s := NewStreamIO(nil, &out)

	s.OutputCharacter('h')
	s.OutputCharacter('é')
	s.OutputNumber(-42)

	if out.Len() != 0 {
		t.Errorf("output written before flush: %q", out.String())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := out.String(); got != "hé-42" {
		t.Errorf("output = %q, want %q", got, "hé-42")
	}
}

func TestStreamIOInputFlushesOutput(t *testing.T) {
	var out bytes.Buffer
	s := NewStreamIO(strings.NewReader("x"), &out)

	s.OutputCharacter('>')
	r, err := s.InputCharacter()
	if err != nil {
		t.Fatalf("InputCharacter failed: %v", err)
	}
	if r != 'x' {
		t.Errorf("InputCharacter = %q, want %q", r, 'x')
	}
	if out.String() != ">" {
		t.Errorf("prompt not flushed before input, output = %q", out.String())
	}
}

func TestStreamIOInputNumber(t *testing.T) {
	s := NewStreamIO(strings.NewReader("  12 \n-7\n99"), nil)

	for _, want := range []int64{12, -7, 99} {
		n, err := s.InputNumber()
		if err != nil {
			t.Fatalf("InputNumber failed: %v", err)
		}
		if n != want {
			t.Errorf("InputNumber = %d, want %d", n, want)
		}
	}

	if _, err := s.InputNumber(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of input, got %v", err)
	}
}

func TestStreamIOInputNumberInvalid(t *testing.T) {
	s := NewStreamIO(strings.NewReader("abc\n"), nil)
	if _, err := s.InputNumber(); err == nil {
		t.Fatal("expected error for non-numeric input")
	}
}

func TestStreamIOWithVM(t *testing.T) {
	var out bytes.Buffer
	s := NewStreamIO(strings.NewReader("H"), &out)

	v := New(NewProgram(
		Push(0), Simple(OpInputChar),
		Push(0), Simple(OpRetrieve), Simple(OpDuplicate), Simple(OpOutputChar),
		Simple(OpOutputNumber),
	))
	v.SetInteractor(s)
	if err := v.Run(context.Background(), NewContext()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s.Flush()

	if got := out.String(); got != "H72" {
		t.Errorf("output = %q, want %q", got, "H72")
	}
}
