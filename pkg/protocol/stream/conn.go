package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrame is used when a Conn is built with a non-positive limit.
const DefaultMaxFrame = 1 << 24

// ErrFrameTooLarge is returned when a peer announces a frame above the limit.
var ErrFrameTooLarge = errors.New("stream: frame exceeds limit")

// Conn carries length-prefixed frames (u32 LE) over a byte stream.
// One reader and any number of writers may use it concurrently.
type Conn struct {
	rwc   io.ReadWriteCloser
	br    *bufio.Reader
	limit int

	mu sync.Mutex
	bw *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

// New wraps rwc; frames larger than limit are rejected on read.
func New(rwc io.ReadWriteCloser, limit int) *Conn {
	if limit <= 0 {
		limit = DefaultMaxFrame
	}
	return &Conn{rwc: rwc, br: bufio.NewReader(rwc), bw: bufio.NewWriter(rwc), limit: limit}
}

// SendBytes writes one frame and flushes it.
func (c *Conn) SendBytes(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := c.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := c.bw.Write(b); err != nil {
		return err
	}
	return c.bw.Flush()
}

// RecvBytes reads the next frame into a fresh slice. A clean end of stream
// between frames is reported as io.EOF.
func (c *Conn) RecvBytes() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(c.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > c.limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, c.limit)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying stream once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.rwc.Close() })
	return c.closeErr
}
