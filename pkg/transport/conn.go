package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"holobridge/pkg/protocol"
	"holobridge/pkg/protocol/codec"
)

// State is the lifecycle position of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn carries encoded packets over one Stream at a time.
// Send may be called concurrently; Receive has a single caller.
type Conn struct {
	ep       Endpoint
	tr       Transport
	codec    codec.Codec
	maxFrame int

	state  atomic.Int32
	closed atomic.Bool // set by Close, cleared by a successful Connect

	mu     sync.Mutex // guards stream
	stream Stream

	sendMu sync.Mutex
}

// NewConn returns a Disconnected connection that dials ep through tr.
func NewConn(ep Endpoint, tr Transport, c codec.Codec, maxFrame int) *Conn {
	return &Conn{ep: ep, tr: tr, codec: c, maxFrame: maxFrame}
}

// NewAcceptedConn wraps an already open inbound stream. Such a connection
// cannot be reconnected.
func NewAcceptedConn(st Stream, ep Endpoint, c codec.Codec) *Conn {
	cn := &Conn{ep: ep, codec: c, stream: st}
	cn.state.Store(int32(StateOpen))
	return cn
}

// Endpoint returns the remote endpoint.
func (c *Conn) Endpoint() Endpoint { return c.ep }

// State returns the current state.
func (c *Conn) State() State { return State(c.state.Load()) }

// IsOpen reports whether the connection can send and receive.
func (c *Conn) IsOpen() bool { return c.State() == StateOpen }

// Connect dials the endpoint once. It is a no-op on an Open connection.
func (c *Conn) Connect(ctx context.Context) error {
	if c.tr == nil {
		if c.IsOpen() {
			return nil
		}
		return &ConnectError{Endpoint: c.ep.String(), Err: ErrClosed}
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		if c.IsOpen() {
			return nil
		}
		return &ConnectError{Endpoint: c.ep.String(), Err: ErrBusy}
	}
	st, err := c.tr.Dial(ctx, c.ep, c.maxFrame)
	if err != nil {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		return &ConnectError{Endpoint: c.ep.String(), Err: err}
	}
	c.mu.Lock()
	c.stream = st
	c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// Close won the race.
		c.mu.Lock()
		if c.stream == st {
			c.stream = nil
		}
		c.mu.Unlock()
		_ = st.Close()
		return &ConnectError{Endpoint: c.ep.String(), Err: ErrClosed}
	}
	c.closed.Store(false)
	return nil
}

func (c *Conn) current() Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Send encodes p and writes it as one frame.
func (c *Conn) Send(p protocol.Packet) error {
	st := c.current()
	if st == nil || !c.IsOpen() {
		return &SendError{Endpoint: c.ep.String(), Err: ErrNotOpen}
	}
	frame, err := protocol.EncodePacket(c.codec, p)
	if err != nil {
		return &SendError{Endpoint: c.ep.String(), Err: err}
	}
	c.sendMu.Lock()
	err = st.SendBytes(frame)
	c.sendMu.Unlock()
	if err != nil {
		return &SendError{Endpoint: c.ep.String(), Err: err}
	}
	return nil
}

// Receive blocks for the next packet. It returns io.EOF at end of stream
// and *ReceiveError on a transport fault; both leave the connection
// Disconnected. A frame that fails to decode yields *protocol.CodecError
// and the connection stays Open.
func (c *Conn) Receive() (protocol.Packet, error) {
	st := c.current()
	if st == nil || !c.IsOpen() {
		return protocol.Packet{}, &ReceiveError{Endpoint: c.ep.String(), Err: ErrNotOpen}
	}
	frame, err := st.RecvBytes()
	if err != nil {
		c.drop(st)
		if errors.Is(err, io.EOF) || c.closed.Load() || errors.Is(err, net.ErrClosed) {
			return protocol.Packet{}, io.EOF
		}
		return protocol.Packet{}, &ReceiveError{Endpoint: c.ep.String(), Err: err}
	}
	return protocol.DecodePacket(c.codec, frame)
}

// drop releases st if it is still current and marks the connection
// Disconnected.
func (c *Conn) drop(st Stream) {
	c.mu.Lock()
	if c.stream != st {
		c.mu.Unlock()
		return
	}
	c.stream = nil
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StateOpen), int32(StateDisconnected))
	_ = st.Close()
}

// Close performs a best-effort graceful close. It is idempotent.
func (c *Conn) Close() error {
	c.closed.Store(true)
	c.state.Store(int32(StateClosing))
	c.mu.Lock()
	st := c.stream
	c.stream = nil
	c.mu.Unlock()
	var err error
	if st != nil {
		err = st.Close()
	}
	c.state.Store(int32(StateDisconnected))
	return err
}
