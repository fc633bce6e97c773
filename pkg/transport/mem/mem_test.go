package mem

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"holobridge/pkg/transport"
)

func TestDialUnknownListener(t *testing.T) {
	tr := New()
	ep, _ := transport.ParseEndpoint("mem://nowhere/mesh")
	if _, err := tr.Dial(context.Background(), ep, 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestHintCarriesChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := New()
	l, err := tr.Listen(ctx, "sink", 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := tr.Listen(ctx, "sink", 0); err == nil {
		t.Fatalf("duplicate listener accepted")
	}

	ep, _ := transport.ParseEndpoint("mem://sink/hands")
	cli, err := tr.Dial(ctx, ep, 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	srv, hint, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if hint.Channel != "hands" {
		t.Fatalf("hint channel %q", hint.Channel)
	}

	go func() { _ = cli.SendBytes([]byte{1, 2, 3}); _ = cli.Close() }()
	if b, err := srv.RecvBytes(); err != nil || len(b) != 3 {
		t.Fatalf("recv: %v %v", b, err)
	}
	if _, err := srv.RecvBytes(); !errors.Is(err, io.EOF) {
		t.Fatalf("want EOF after peer close, got %v", err)
	}

	_ = l.Close()
	if _, err := tr.Listen(ctx, "sink", 0); err != nil {
		t.Fatalf("name not released after close: %v", err)
	}
}
