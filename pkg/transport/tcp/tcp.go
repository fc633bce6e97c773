package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"holobridge/pkg/protocol/stream"
	"holobridge/pkg/transport"
)

// Transport carries length-prefixed frames (u32 LE) over TCP.
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string, maxFrame int) (transport.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, maxFrame: maxFrame, newCh: make(chan accepted, 8), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = tl.Close()
		case <-tl.closeCh:
		}
	}()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint, maxFrame int) (transport.Stream, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", ep.Host)
	if err != nil {
		return nil, err
	}
	return stream.New(c, maxFrame), nil
}

type accepted struct {
	st   *stream.Conn
	hint transport.Hint
}

type listener struct {
	l        net.Listener
	maxFrame int
	newCh    chan accepted
	closeCh  chan struct{}
	once     sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, transport.Hint, error) {
	select {
	case <-ctx.Done():
		return nil, transport.Hint{}, ctx.Err()
	case <-l.closeCh:
		return nil, transport.Hint{}, errors.New("tcp listener closed")
	case a := <-l.newCh:
		return a.st, a.hint, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		a := accepted{st: stream.New(c, l.maxFrame), hint: transport.Hint{Remote: c.RemoteAddr().String()}}
		select {
		case l.newCh <- a:
		default:
			_ = a.st.Close()
		}
	}
}
