// Package mem is an in-process transport over net.Pipe, used by tests and
// by single-process setups that run edge and sink side by side.
package mem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"holobridge/pkg/protocol/stream"
	"holobridge/pkg/transport"
)

// Transport is a namespace of named in-process listeners. Endpoints look
// like mem://<listener-name>/<channel>.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

var defaultTransport = New()

// Default returns the process-wide namespace.
func Default() *Transport { return defaultTransport }

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string, maxFrame int) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, fmt.Errorf("mem: listener %q already exists", name)
	}
	l := &listener{name: name, maxFrame: maxFrame, newCh: make(chan accepted, 8), closeCh: make(chan struct{})}
	l.release = func() {
		t.mu.Lock()
		if t.listeners[name] == l {
			delete(t.listeners, name)
		}
		t.mu.Unlock()
	}
	t.listeners[name] = l
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.closeCh:
		}
	}()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint, maxFrame int) (transport.Stream, error) {
	t.mu.Lock()
	l := t.listeners[ep.Host]
	t.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("mem: no listener %q", ep.Host)
	}
	c1, c2 := net.Pipe()
	srv := accepted{st: stream.New(c1, l.maxFrame), hint: transport.Hint{Channel: ep.Channel, Remote: "mem:" + ep.Host}}
	select {
	case l.newCh <- srv:
	case <-l.closeCh:
		_ = c1.Close()
		_ = c2.Close()
		return nil, errors.New("mem: listener closed")
	case <-ctx.Done():
		_ = c1.Close()
		_ = c2.Close()
		return nil, ctx.Err()
	}
	return stream.New(c2, maxFrame), nil
}

type accepted struct {
	st   *stream.Conn
	hint transport.Hint
}

type listener struct {
	name     string
	maxFrame int
	newCh    chan accepted
	closeCh  chan struct{}
	once     sync.Once
	release  func()
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Stream, transport.Hint, error) {
	select {
	case <-ctx.Done():
		return nil, transport.Hint{}, ctx.Err()
	case <-l.closeCh:
		return nil, transport.Hint{}, errors.New("mem listener closed")
	case a := <-l.newCh:
		return a.st, a.hint, nil
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
		l.release()
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
