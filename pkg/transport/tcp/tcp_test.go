package tcp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"holobridge/pkg/transport"
)

func TestDialAcceptExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := New()
	l, err := tr.Listen(ctx, "127.0.0.1:0", 1024)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	ep, err := transport.ParseEndpoint("tcp://" + l.Addr().String() + "/mesh")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	cli, err := tr.Dial(ctx, ep, 1024)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()

	srv, hint, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer srv.Close()
	if hint.Channel != "" || hint.Remote == "" {
		t.Fatalf("unexpected hint %+v", hint)
	}

	if err := cli.SendBytes([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := srv.RecvBytes()
	if err != nil || !bytes.Equal(got, []byte("ping")) {
		t.Fatalf("recv: %q %v", got, err)
	}
}
