package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"holobridge/pkg/compress"
	"holobridge/pkg/core/netstack"
	"holobridge/pkg/memkv"
	"holobridge/pkg/protocol"
	"holobridge/pkg/testutil"
	"holobridge/pkg/transport"
	"holobridge/pkg/transport/mem"
)

type countingTransport struct {
	transport.Transport
	dials atomic.Int32
}

func (c *countingTransport) Dial(ctx context.Context, ep transport.Endpoint, maxFrame int) (transport.Stream, error) {
	c.dials.Add(1)
	return c.Transport.Dial(ctx, ep, maxFrame)
}

func using(tr transport.Transport) func(string) (transport.Transport, error) {
	return func(string) (transport.Transport, error) { return tr, nil }
}

// sinkSide accepts streams on a mem listener and attaches them to reg.
func sinkSide(t *testing.T, ctx context.Context, tr *mem.Transport, name string, reg *Registry) {
	t.Helper()
	l, err := tr.Listen(ctx, name, reg.FrameLimit())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = netstack.AcceptLoop(ctx, l, func(st transport.Stream, h transport.Hint) {
			conn := transport.NewAcceptedConn(st, transport.Endpoint{Scheme: "mem", Host: h.Remote}, reg.Codec())
			if _, err := reg.Attach(h.Channel, conn); err != nil {
				_ = st.Close()
			}
		})
	}()
}

func fastOptions() Options {
	return Options{
		IdleInterval:  5 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
		Backoff:       netstack.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	}
}

func TestAddChannelTwiceConnectsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := mem.New()
	sink := NewRegistry(fastOptions())
	defer sink.Close()
	sinkSide(t, ctx, tr, "sink", sink)

	ct := &countingTransport{Transport: tr}
	opts := fastOptions()
	opts.Transports = using(ct)
	edge := NewRegistry(opts)
	defer edge.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := edge.AddChannel(ctx, "mesh", "mem://sink/mesh"); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := edge.AddChannel(ctx, "MESH", "mem://sink/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if n := ct.dials.Load(); n != 1 {
		t.Fatalf("want one connection attempt, got %d", n)
	}
	if !edge.IsChannelOpen("mesh") {
		t.Fatalf("channel not open")
	}
	if got := edge.Names(); len(got) != 1 || got[0] != "mesh" {
		t.Fatalf("names %v", got)
	}
}

func TestAddUnknownChannel(t *testing.T) {
	r := NewRegistry(fastOptions())
	defer r.Close()
	if err := r.AddChannel(context.Background(), "eyes", "mem://sink/eyes"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("want ErrUnknownChannel, got %v", err)
	}
	if r.Enqueue("eyes", protocol.NewControl(true, 0)) || r.SendSignal("eyes", true) {
		t.Fatalf("unknown channel accepted packet")
	}
	if _, err := r.Transmit("eyes", []byte("x")); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("transmit: %v", err)
	}
	r.RemoveChannel("eyes")
}

func TestTransferEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan protocol.Artifact, 8)
	sinkOpts := fastOptions()
	sinkOpts.MaxChunkBytes = 16
	sinkOpts.Tombstones = memkv.New(memkv.Options{})
	defer sinkOpts.Tombstones.Close()
	sinkOpts.Handler = func(_ *Channel, a protocol.Artifact) { got <- a }
	sink := NewRegistry(sinkOpts)
	defer sink.Close()

	tr := mem.New()
	sinkSide(t, ctx, tr, "sink", sink)

	echo := make(chan protocol.Artifact, 1)
	edgeOpts := fastOptions()
	edgeOpts.MaxChunkBytes = 16
	edgeOpts.Transports = using(tr)
	edgeOpts.Handler = func(_ *Channel, a protocol.Artifact) { echo <- a }
	edgeOpts.Settings = map[string]Settings{"mesh": {LineAligned: true}}
	edge := NewRegistry(edgeOpts)
	defer edge.Close()

	if err := edge.AddChannel(ctx, "mesh", "mem://sink/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	obj := []byte("v 1 2 3\nv 4 5 6\nv 7 8 9\nf 1 2 3\n")
	edge.SendSignal("mesh", true)
	id, err := edge.Transmit("mesh", obj)
	if err != nil || id == "" {
		t.Fatalf("transmit: %q %v", id, err)
	}
	edge.SendSignal("mesh", false)

	start := testutil.RequireReceive(t, got, 5*time.Second, "start signal")
	if start.PacketID != protocol.IDStart {
		t.Fatalf("first artifact %q", start.PacketID)
	}
	a := testutil.RequireReceive(t, got, 5*time.Second, "artifact")
	if a.PacketID != id || !bytes.Equal(a.Data, obj) || a.Channel != "mesh" || a.ChannelID != protocol.ChannelMesh {
		t.Fatalf("artifact %+v", a)
	}
	stop := testutil.RequireReceive(t, got, 5*time.Second, "stop signal")
	if stop.PacketID != protocol.IDStop {
		t.Fatalf("last artifact %q", stop.PacketID)
	}

	ch, _ := edge.Channel("mesh")
	if err := ch.WaitIdle(ctx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
	if s := ch.Stats(); s.PacketsSent < 4 {
		t.Fatalf("sent %d packets", s.PacketsSent)
	}

	// the sink answers on the same connection
	if _, err := sink.Transmit("mesh", []byte("merged")); err != nil {
		t.Fatalf("echo transmit: %v", err)
	}
	back := testutil.RequireReceive(t, echo, 5*time.Second, "echo")
	if string(back.Data) != "merged" {
		t.Fatalf("echo %q", back.Data)
	}
}

func TestCompressedChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := map[string]Settings{"hands": {Compression: compress.Zstd}}
	got := make(chan protocol.Artifact, 4)
	sinkOpts := fastOptions()
	sinkOpts.Settings = settings
	sinkOpts.MaxChunkBytes = 64
	sinkOpts.Handler = func(_ *Channel, a protocol.Artifact) { got <- a }
	sink := NewRegistry(sinkOpts)
	defer sink.Close()
	tr := mem.New()
	sinkSide(t, ctx, tr, "sink", sink)

	edgeOpts := fastOptions()
	edgeOpts.Settings = settings
	edgeOpts.MaxChunkBytes = 64
	edgeOpts.Transports = using(tr)
	edge := NewRegistry(edgeOpts)
	defer edge.Close()
	if err := edge.AddChannel(ctx, "hands", "mem://sink/hands"); err != nil {
		t.Fatalf("add: %v", err)
	}

	frame := []byte(strings.Repeat("0.25,0.5,0.75;", 200))
	if _, err := edge.Transmit("hands", frame); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	a := testutil.RequireReceive(t, got, 5*time.Second, "artifact")
	if !bytes.Equal(a.Data, frame) {
		t.Fatalf("decompressed payload mismatch")
	}
	ch, _ := edge.Channel("hands")
	if s := ch.Stats(); s.BytesSent >= uint64(len(frame)) {
		t.Fatalf("payload not compressed: %d bytes sent", s.BytesSent)
	}
}

func TestRemoveDuringRetryReturnsPromptly(t *testing.T) {
	opts := fastOptions()
	opts.RetryInterval = 5 * time.Second
	opts.Backoff = netstack.Backoff{Initial: 5 * time.Second, Max: 5 * time.Second}
	opts.Redial = true
	opts.Transports = using(mem.New())
	r := NewRegistry(opts)
	defer r.Close()

	if err := r.AddChannel(context.Background(), "mesh", "mem://nowhere/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.IsChannelOpen("mesh") {
		t.Fatalf("open without listener")
	}
	r.SendSignal("mesh", true)
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	r.RemoveChannel("mesh")
	if d := time.Since(start); d > time.Second {
		t.Fatalf("remove took %v", d)
	}
	if _, ok := r.Channel("mesh"); ok {
		t.Fatalf("channel still registered")
	}
}

func TestRedialAfterListenerAppears(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := mem.New()
	opts := fastOptions()
	opts.Redial = true
	opts.Transports = using(tr)
	edge := NewRegistry(opts)
	defer edge.Close()
	if err := edge.AddChannel(ctx, "hands", "mem://late/hands"); err != nil {
		t.Fatalf("add: %v", err)
	}
	edge.SendSignal("hands", true)

	got := make(chan protocol.Artifact, 4)
	sinkOpts := fastOptions()
	sinkOpts.Handler = func(_ *Channel, a protocol.Artifact) { got <- a }
	sink := NewRegistry(sinkOpts)
	defer sink.Close()
	sinkSide(t, ctx, tr, "late", sink)

	testutil.Eventually(t, 5*time.Second, func() bool { return edge.IsChannelOpen("hands") }, "redial")
	a := testutil.RequireReceive(t, got, 5*time.Second, "queued signal delivered after reconnect")
	if a.PacketID != protocol.IDStart {
		t.Fatalf("got %q", a.PacketID)
	}

	// the sink drops the stream; the edge dials again
	sink.RemoveChannel("hands")
	testutil.Eventually(t, 5*time.Second, func() bool { return sink.IsChannelOpen("hands") }, "second connection")
}

type failingStream struct {
	sends  atomic.Int32
	once   sync.Once
	closed chan struct{}
}

func (f *failingStream) SendBytes([]byte) error {
	f.sends.Add(1)
	return errors.New("broken pipe")
}

func (f *failingStream) RecvBytes() ([]byte, error) {
	<-f.closed
	return nil, io.EOF
}

func (f *failingStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type failingTransport struct{ st *failingStream }

func (failingTransport) Kind() transport.Kind { return transport.KindMem }
func (failingTransport) Listen(context.Context, string, int) (transport.Listener, error) {
	return nil, errors.New("not supported")
}
func (f failingTransport) Dial(context.Context, transport.Endpoint, int) (transport.Stream, error) {
	return f.st, nil
}

func TestSendFailuresDropHeadAfterMaxAttempts(t *testing.T) {
	st := &failingStream{closed: make(chan struct{})}
	opts := fastOptions()
	opts.MaxSendAttempts = 3
	opts.Transports = using(failingTransport{st: st})
	r := NewRegistry(opts)
	defer r.Close()

	if err := r.AddChannel(context.Background(), "mesh", "mem://x/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.SendSignal("mesh", true)
	r.SendSignal("mesh", false)

	ch, _ := r.Channel("mesh")
	testutil.Eventually(t, 5*time.Second, func() bool { return ch.QueueLen() == 0 }, "queue drained by drops")
	if n := st.sends.Load(); n != 6 {
		t.Fatalf("want 6 send attempts, got %d", n)
	}
	if s := ch.Stats(); s.Dropped != 2 || s.PacketsSent != 0 {
		t.Fatalf("stats %+v", s)
	}
}

func TestBroadcastRetagsPerChannel(t *testing.T) {
	opts := fastOptions()
	opts.Transports = using(mem.New())
	r := NewRegistry(opts)
	defer r.Close()
	_ = r.AddChannel(context.Background(), "mesh", "mem://none/mesh")
	_ = r.AddChannel(context.Background(), "hands", "mem://none/hands")

	r.Broadcast(protocol.NewControl(true, protocol.ChannelMesh))
	for _, name := range []string{"mesh", "hands"} {
		ch, _ := r.Channel(name)
		p, ok := ch.queue.Peek()
		if !ok || p.Channel != ch.ID() {
			t.Fatalf("%s: %+v %v", name, p, ok)
		}
	}
}

func TestConcurrentSessionsStayContiguous(t *testing.T) {
	opts := fastOptions()
	opts.MaxChunkBytes = 4
	opts.Redial = true
	opts.Backoff = netstack.Backoff{Initial: 5 * time.Second, Max: 5 * time.Second}
	opts.Transports = using(mem.New())
	r := NewRegistry(opts)
	defer r.Close()

	if err := r.AddChannel(context.Background(), "mesh", "mem://nowhere/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	ch, _ := r.Channel("mesh")

	const senders, rounds = 4, 50
	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if _, err := ch.TransmitSession([]byte("v 0 0 0\n"), []byte("f 1\n")); err != nil {
					t.Errorf("session: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// queue is held while the channel is down
	var sessions int
	open := false
	for {
		p, ok := ch.queue.Pop()
		if !ok {
			break
		}
		switch p.ID {
		case protocol.IDStart:
			if open {
				t.Fatalf("start inside an open session")
			}
			open = true
		case protocol.IDStop:
			if !open {
				t.Fatalf("stop without start")
			}
			open = false
			sessions++
		default:
			if !open {
				t.Fatalf("data packet %s outside its session", p.ID)
			}
		}
	}
	if sessions != senders*rounds {
		t.Fatalf("sessions %d, want %d", sessions, senders*rounds)
	}
}
