// Package ws is the websocket transport. Each binary message is one frame;
// the request path names the channel (GET /<channel>).
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"holobridge/pkg/transport"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// Transport dials and serves websocket streams.
type Transport struct {
	dialer   websocket.Dialer
	upgrader websocket.Upgrader
}

func New() *Transport {
	return &Transport{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindWebSocket }

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint, maxFrame int) (transport.Stream, error) {
	c, resp, err := t.dialer.DialContext(ctx, ep.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newStream(c, maxFrame), nil
}

// Listen serves websocket upgrades on address.
func (t *Transport) Listen(ctx context.Context, address string, maxFrame int) (transport.Listener, error) {
	nl, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	l := t.newListener(nl.Addr(), maxFrame)
	l.srv = &http.Server{Handler: l, ReadHeaderTimeout: handshakeTimeout}
	go func() {
		if err := l.srv.Serve(nl); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Warn("ws server stopped", zap.String("addr", nl.Addr().String()), zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.closeCh:
		}
	}()
	return l, nil
}

// Handler returns a listener usable as an http.Handler inside an existing
// server (httptest in tests); it has no socket of its own.
func (t *Transport) Handler(maxFrame int) *Listener {
	return t.newListener(nil, maxFrame)
}

func (t *Transport) newListener(addr net.Addr, maxFrame int) *Listener {
	return &Listener{
		upgrader: t.upgrader,
		addr:     addr,
		maxFrame: maxFrame,
		newCh:    make(chan accepted, 8),
		closeCh:  make(chan struct{}),
	}
}

type accepted struct {
	st   *Stream
	hint transport.Hint
}

// Listener upgrades GET /<channel> requests. /healthz answers 200 and
// everything else gets 400.
type Listener struct {
	health   atomic.Pointer[func() any]
	upgrader websocket.Upgrader
	addr     net.Addr
	maxFrame int
	srv      *http.Server
	newCh    chan accepted
	closeCh  chan struct{}
	once     sync.Once
}

// SetHealth makes /healthz answer with fn's result as JSON instead of "ok".
func (l *Listener) SetHealth(fn func() any) { l.health.Store(&fn) }

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		l.serveHealth(w)
		return
	}
	name := strings.Trim(r.URL.Path, "/")
	if r.Method != http.MethodGet || name == "" || strings.Contains(name, "/") || !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade to /<channel> required", http.StatusBadRequest)
		return
	}
	select {
	case <-l.closeCh:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		zap.L().Debug("ws upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	a := accepted{st: newStream(c, l.maxFrame), hint: transport.Hint{Channel: name, Remote: r.RemoteAddr}}
	select {
	case l.newCh <- a:
	case <-l.closeCh:
		_ = a.st.Close()
	case <-time.After(handshakeTimeout):
		zap.L().Warn("ws accept queue full, dropping connection", zap.String("channel", name))
		_ = a.st.Close()
	}
}

func (l *Listener) serveHealth(w http.ResponseWriter) {
	fn := l.health.Load()
	if fn == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode((*fn)()); err != nil {
		zap.L().Debug("healthz write failed", zap.Error(err))
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }

func (l *Listener) Accept(ctx context.Context) (transport.Stream, transport.Hint, error) {
	select {
	case <-ctx.Done():
		return nil, transport.Hint{}, ctx.Err()
	case <-l.closeCh:
		return nil, transport.Hint{}, errors.New("ws listener closed")
	case a := <-l.newCh:
		return a.st, a.hint, nil
	}
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		if l.srv != nil {
			err = l.srv.Close()
		}
	})
	return err
}

// Stream is one websocket connection moving binary messages.
type Stream struct {
	c         *websocket.Conn
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newStream(c *websocket.Conn, maxFrame int) *Stream {
	if maxFrame > 0 {
		c.SetReadLimit(int64(maxFrame))
	}
	return &Stream{c: c}
}

func (s *Stream) SendBytes(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.c.WriteMessage(websocket.BinaryMessage, b)
}

// RecvBytes skips text messages. A normal close from the peer is io.EOF.
func (s *Stream) RecvBytes() ([]byte, error) {
	for {
		mt, b, err := s.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

// Close sends a close frame and releases the socket.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
		_ = s.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		s.closeErr = s.c.Close()
	})
	return s.closeErr
}
