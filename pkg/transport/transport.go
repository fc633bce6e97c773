package transport

import (
	"context"
	"net"
)

// Kind identifies a transport implementation.
type Kind int

const (
	KindUnknown Kind = iota
	KindWebSocket
	KindTCP
	KindQUIC
	KindMem
	KindWinPipe
)

func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "ws"
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	case KindWinPipe:
		return "winpipe"
	default:
		return "unknown"
	}
}

// Stream is a bidirectional frame stream. One reader goroutine and one
// writer at a time are expected; Close may be called from any goroutine.
type Stream interface {
	// SendBytes writes one frame.
	SendBytes([]byte) error
	// RecvBytes returns the next frame, or io.EOF once the peer closed cleanly.
	RecvBytes() ([]byte, error)
	// Close performs the transport's close handshake where it has one and
	// releases the socket.
	Close() error
}

// Hint carries what a listener learned about an inbound stream.
type Hint struct {
	Channel string // empty when the scheme does not name a channel
	Remote  string
}

// Listener accepts inbound streams.
type Listener interface {
	// Accept blocks until an inbound stream is available or ctx is done.
	Accept(ctx context.Context) (Stream, Hint, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport dials and listens for one Kind. maxFrame bounds the size of a
// single received frame.
type Transport interface {
	Kind() Kind
	Listen(ctx context.Context, address string, maxFrame int) (Listener, error)
	Dial(ctx context.Context, ep Endpoint, maxFrame int) (Stream, error)
}
