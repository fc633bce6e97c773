package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"holobridge/pkg/protocol/stream"
	"holobridge/pkg/transport"
)

const alpn = "holobridge"

// Transport runs one bidirectional QUIC stream per connection with u32 LE
// framing. The dialer sends the channel name as the first frame so the
// listener can report it as a hint.
type Transport struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	quicConf  *quicgo.Config
}

func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Transport{
		serverTLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		clientTLS: &tls.Config{
			InsecureSkipVerify: true, // self-signed sink certificates
			NextProtos:         []string{alpn},
			MinVersion:         tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{KeepAlivePeriod: 15 * time.Second},
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string, maxFrame int) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.serverTLS, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, maxFrame: maxFrame, newCh: make(chan accepted, 8), closeCh: make(chan struct{})}
	lctx, cancel := context.WithCancel(ctx)
	ql.cancel = cancel
	go ql.acceptLoop(lctx)
	go func() {
		<-lctx.Done()
		_ = ql.Close()
	}()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint, maxFrame int) (transport.Stream, error) {
	c, err := quicgo.DialAddr(ctx, ep.Host, t.clientTLS, t.quicConf)
	if err != nil {
		return nil, err
	}
	qs, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "open stream failed")
		return nil, err
	}
	st := stream.New(&rwc{s: qs, c: c}, maxFrame)
	if err := st.SendBytes([]byte(ep.Channel)); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

type accepted struct {
	st   *stream.Conn
	hint transport.Hint
}

type listener struct {
	l        *quicgo.Listener
	maxFrame int
	newCh    chan accepted
	closeCh  chan struct{}
	once     sync.Once
	cancel   context.CancelFunc
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, transport.Hint, error) {
	select {
	case <-ctx.Done():
		return nil, transport.Hint{}, ctx.Err()
	case <-l.closeCh:
		return nil, transport.Hint{}, errors.New("quic listener closed")
	case a := <-l.newCh:
		return a.st, a.hint, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		l.cancel()
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		go l.handshake(ctx, c)
	}
}

// handshake waits for the dialer's stream and its channel-name frame.
func (l *listener) handshake(ctx context.Context, c quicgo.Connection) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	qs, err := c.AcceptStream(hctx)
	if err != nil {
		_ = c.CloseWithError(0, "no stream")
		return
	}
	st := stream.New(&rwc{s: qs, c: c}, l.maxFrame)
	name, err := st.RecvBytes()
	if err != nil {
		_ = st.Close()
		return
	}
	a := accepted{st: st, hint: transport.Hint{Channel: string(name), Remote: c.RemoteAddr().String()}}
	select {
	case l.newCh <- a:
	default:
		_ = st.Close()
	}
}

// rwc adapts a QUIC stream: a peer's application close with code 0 reads as
// io.EOF, and Close tears down the whole connection.
type rwc struct {
	s quicgo.Stream
	c quicgo.Connection
}

func (r *rwc) Read(p []byte) (int, error) {
	n, err := r.s.Read(p)
	var ae *quicgo.ApplicationError
	if errors.As(err, &ae) && ae.ErrorCode == 0 {
		err = io.EOF
	}
	return n, err
}

func (r *rwc) Write(p []byte) (int, error) { return r.s.Write(p) }

func (r *rwc) Close() error {
	_ = r.s.Close()
	return r.c.CloseWithError(0, "closing")
}

func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
