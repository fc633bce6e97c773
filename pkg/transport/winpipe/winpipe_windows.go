//go:build windows

package winpipe

import (
	"context"
	"errors"
	"net"

	"github.com/Microsoft/go-winio"

	"holobridge/pkg/protocol/stream"
	"holobridge/pkg/transport"
)

// Transport carries u32 LE frames over Windows named pipes. Endpoints look
// like pipe://<pipe-name>/<channel>, dialing \\.\pipe\<pipe-name>.
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

// PipePath expands a bare pipe name to its full path.
func PipePath(name string) string {
	if len(name) > 2 && name[0] == '\\' {
		return name
	}
	return `\\.\pipe\` + name
}

func (t *Transport) Listen(ctx context.Context, pipeName string, maxFrame int) (transport.Listener, error) {
	l, err := winio.ListenPipe(PipePath(pipeName), nil)
	if err != nil {
		return nil, err
	}
	wl := &listener{l: l, maxFrame: maxFrame, newCh: make(chan *stream.Conn, 8), closeCh: make(chan struct{})}
	go wl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = wl.Close()
		case <-wl.closeCh:
		}
	}()
	return wl, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint, maxFrame int) (transport.Stream, error) {
	c, err := winio.DialPipeContext(ctx, PipePath(ep.Host))
	if err != nil {
		return nil, err
	}
	return stream.New(c, maxFrame), nil
}

type listener struct {
	l        net.Listener
	maxFrame int
	newCh    chan *stream.Conn
	closeCh  chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, transport.Hint, error) {
	select {
	case <-ctx.Done():
		return nil, transport.Hint{}, ctx.Err()
	case <-l.closeCh:
		return nil, transport.Hint{}, errors.New("winpipe listener closed")
	case s := <-l.newCh:
		return s, transport.Hint{Remote: l.l.Addr().String()}, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
		return nil
	default:
		close(l.closeCh)
	}
	return l.l.Close()
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		s := stream.New(c, l.maxFrame)
		select {
		case l.newCh <- s:
		default:
			_ = s.Close()
		}
	}
}
