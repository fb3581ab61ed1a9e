package imap

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/mindwall/mindwall/internal/core"
)

// Chunk is one protocol unit from the stream: a line and, when the line
// announced a literal, the exact literal bytes that followed it.
type Chunk struct {
	Line    []byte
	Literal []byte
}

// Bytes returns the chunk exactly as it appeared on the wire.
func (c *Chunk) Bytes() []byte {
	if c.Literal == nil {
		return c.Line
	}
	out := make([]byte, 0, len(c.Line)+len(c.Literal))
	out = append(out, c.Line...)
	out = append(out, c.Literal...)
	return out
}

// Reader tokenizes an IMAP byte stream into chunks, consuming announced
// literals as opaque byte runs so they are never misread as protocol lines.
type Reader struct {
	br         *bufio.Reader
	maxLiteral int
}

// NewReader creates a literal-aware reader. maxLiteral bounds the size of
// any single literal; an announcement above it is a protocol violation.
func NewReader(r io.Reader, maxLiteral int) *Reader {
	return &Reader{
		br:         bufio.NewReaderSize(r, 64*1024),
		maxLiteral: maxLiteral,
	}
}

// Next returns the next chunk. A stream ending cleanly between chunks
// returns io.EOF; a stream ending mid-line or mid-literal returns
// ErrProtocolViolation, because truncated units must never be forwarded as
// complete ones.
func (r *Reader) Next() (*Chunk, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: stream ended mid-line", core.ErrProtocolViolation)
		}
		return nil, err
	}

	chunk := &Chunk{Line: line}

	size, ok := TrailingLiteralSize(line)
	if !ok {
		return chunk, nil
	}
	if size > r.maxLiteral {
		return nil, fmt.Errorf("%w: literal of %d bytes exceeds limit %d", core.ErrProtocolViolation, size, r.maxLiteral)
	}

	literal := make([]byte, size)
	if n, err := io.ReadFull(r.br, literal); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended %d bytes into a %d byte literal",
				core.ErrProtocolViolation, n, size)
		}
		return nil, err
	}
	chunk.Literal = literal
	return chunk, nil
}
