package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Interactor is the host capability the VM calls for character and numeric
// I/O. Calls are synchronous; the VM adds no buffering or timeouts.
type Interactor interface {
	// OutputCharacter writes one character.
	OutputCharacter(r rune) error
	// OutputNumber writes n in decimal.
	OutputNumber(n int64) error
	// InputCharacter blocks until one character is available.
	InputCharacter() (rune, error)
	// InputNumber blocks until one integer is available.
	InputNumber() (int64, error)
}

// StreamIO implements Interactor over a reader and a writer.
// Numbers are read one per line. Output is buffered and flushed before every
// read and by Flush.
type StreamIO struct {
	in  *bufio.Reader
	out *bufio.Writer
}

// NewStreamIO creates a StreamIO. Either side may be nil; reading from a nil
// reader yields io.EOF and writing to a nil writer discards output.
func NewStreamIO(r io.Reader, w io.Writer) *StreamIO {
	if r == nil {
		r = strings.NewReader("")
	}
	if w == nil {
		w = io.Discard
	}
	return &StreamIO{
		in:  bufio.NewReader(r),
		out: bufio.NewWriter(w),
	}
}

func (s *StreamIO) OutputCharacter(r rune) error {
	_, err := s.out.WriteRune(r)
	return err
}

func (s *StreamIO) OutputNumber(n int64) error {
	_, err := s.out.WriteString(strconv.FormatInt(n, 10))
	return err
}

func (s *StreamIO) InputCharacter() (rune, error) {
	if err := s.out.Flush(); err != nil {
		return 0, err
	}
	r, _, err := s.in.ReadRune()
	if err != nil {
		return 0, err
	}
	return r, nil
}

func (s *StreamIO) InputNumber() (int64, error) {
	if err := s.out.Flush(); err != nil {
		return 0, err
	}
	line, err := s.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return 0, err
	}
	text := strings.TrimSpace(line)
	n, perr := strconv.ParseInt(text, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("invalid number %q: %w", text, perr)
	}
	return n, nil
}

// Flush writes any buffered output.
func (s *StreamIO) Flush() error {
	return s.out.Flush()
}
