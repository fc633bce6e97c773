package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"holobridge/pkg/artifact"
	"holobridge/pkg/channel"
	"holobridge/pkg/config"
	"holobridge/pkg/protocol"
	"holobridge/pkg/testutil"
	"holobridge/pkg/transport"
	"holobridge/pkg/transport/mem"
	"holobridge/pkg/transport/tcp"
	"holobridge/pkg/transport/ws"
)

const (
	fragA = "v 0 0 0\nv 1 0 0\nf 1 2\n"
	fragB = "v 2 2 2\nf 1\n"

	mergedMesh = artifact.MergedOBJHeader + "v 0 0 0\nv 1 0 0\nv 2 2 2\nf 1 2\nf 3\n"
)

func testConfig(t *testing.T, endpoint func(channel string) string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "debug"
	cfg.Transfer.MaxChunkBytes = 8
	cfg.Net.SendIdleMS = 5
	cfg.Net.SendRetryMS = 20
	cfg.Net.DialBackoffInitialMS = 10
	cfg.Net.DialBackoffMaxMS = 50
	cfg.Net.DialBackoffJitterMS = 0
	cfg.Sink.OutputDir = t.TempDir()
	cfg.Edge.EchoDir = ""
	for i := range cfg.Channels {
		cfg.Channels[i].Endpoint = endpoint(cfg.Channels[i].Name)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return cfg
}

func producer(t *testing.T, cfg *config.Config, tr transport.Transport, handler channel.Handler) *channel.Registry {
	t.Helper()
	opts, err := cfg.RegistryOptions(nil)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if tr != nil {
		opts.Transports = func(string) (transport.Transport, error) { return tr, nil }
	}
	opts.Handler = handler
	r := channel.NewRegistry(opts)
	t.Cleanup(r.Close)
	return r
}

func sendSession(t *testing.T, r *channel.Registry, name string, parts ...string) {
	t.Helper()
	if !r.SendSignal(name, true) {
		t.Fatalf("no channel %s", name)
	}
	for _, p := range parts {
		if _, err := r.Transmit(name, []byte(p)); err != nil {
			t.Fatalf("transmit: %v", err)
		}
	}
	r.SendSignal(name, false)
}

func TestMergedSessionOverMem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := mem.New()
	cfg := testConfig(t, func(ch string) string { return "mem://sink/" + ch })
	cfg.Sink.Scheme, cfg.Sink.Listen = "mem", "sink"

	stored := make(chan artifact.Stored, 4)
	srv, err := New(cfg, Options{
		Transports: func(string) (transport.Transport, error) { return tr, nil },
		OnStored:   func(s artifact.Stored) { stored <- s },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer srv.Close()
	go func() { _ = srv.ListenAndServe(ctx) }()
	testutil.Eventually(t, 5*time.Second, func() bool { return srv.Addr() != nil }, "listener up")

	echo := make(chan protocol.Artifact, 4)
	edge := producer(t, cfg, tr, func(_ *channel.Channel, a protocol.Artifact) {
		if !a.IsControl() {
			echo <- a
		}
	})
	if err := edge.AddChannel(ctx, "mesh", "mem://sink/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sendSession(t, edge, "mesh", fragA, fragB)

	s := testutil.RequireReceive(t, stored, 5*time.Second, "merged file")
	if !s.Merged || s.Parts != 2 || s.Channel != "mesh" || filepath.Ext(s.Path) != ".obj" {
		t.Fatalf("stored %+v", s)
	}
	b, err := os.ReadFile(s.Path)
	if err != nil || string(b) != mergedMesh {
		t.Fatalf("file %q %v", b, err)
	}
	if !strings.HasPrefix(filepath.Base(s.Path), "mesh_") {
		t.Fatalf("name %s", s.Path)
	}

	back := testutil.RequireReceive(t, echo, 5*time.Second, "echo of merged mesh")
	if string(back.Data) != mergedMesh {
		t.Fatalf("echo %q", back.Data)
	}
}

func TestDeliverOutsideSessionAndEmptySession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := mem.New()
	cfg := testConfig(t, func(ch string) string { return "mem://s2/" + ch })
	cfg.Sink.Scheme, cfg.Sink.Listen = "mem", "s2"
	for i := range cfg.Channels {
		if cfg.Channels[i].Name == "hands" {
			cfg.Channels[i].OutsideSession = "deliver"
		}
	}
	stored := make(chan artifact.Stored, 4)
	srv, err := New(cfg, Options{
		Transports: func(string) (transport.Transport, error) { return tr, nil },
		OnStored:   func(s artifact.Stored) { stored <- s },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer srv.Close()
	go func() { _ = srv.ListenAndServe(ctx) }()
	testutil.Eventually(t, 5*time.Second, func() bool { return srv.Addr() != nil }, "listener up")

	edge := producer(t, cfg, tr, nil)
	if err := edge.AddChannel(ctx, "hands", "mem://s2/hands"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sendSession(t, edge, "hands")
	if _, err := edge.Transmit("hands", []byte("frame-1")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	s := testutil.RequireReceive(t, stored, 5*time.Second, "single delivery")
	if s.Merged || filepath.Ext(s.Path) != ".bin" || s.Bytes != len("frame-1") {
		t.Fatalf("stored %+v", s)
	}
	testutil.RequireNoReceive(t, stored, 100*time.Millisecond, "empty session wrote a file")
}

func TestMergedSessionOverWebSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, func(string) string { return "ws://127.0.0.1:1/unused" })
	stored := make(chan artifact.Stored, 4)
	srv, err := New(cfg, Options{OnStored: func(s artifact.Stored) { stored <- s }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer srv.Close()
	l := ws.New().Handler(srv.Registry().FrameLimit())
	hs := httptest.NewServer(l)
	defer hs.Close()
	go func() { _ = srv.Serve(ctx, l) }()

	resp, err := http.Get(hs.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	resp, err = http.Get(hs.URL + "/mesh")
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("plain GET: %v %v", resp, err)
	}
	resp.Body.Close()

	echo := make(chan protocol.Artifact, 4)
	edge := producer(t, cfg, nil, func(_ *channel.Channel, a protocol.Artifact) {
		if !a.IsControl() {
			echo <- a
		}
	})
	host := strings.TrimPrefix(hs.URL, "http://")
	if err := edge.AddChannel(ctx, "mesh", "ws://"+host+"/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sendSession(t, edge, "mesh", fragA, fragB)

	s := testutil.RequireReceive(t, stored, 5*time.Second, "merged file")
	if !s.Merged || s.Parts != 2 {
		t.Fatalf("stored %+v", s)
	}
	back := testutil.RequireReceive(t, echo, 5*time.Second, "echo")
	if string(back.Data) != mergedMesh {
		t.Fatalf("echo %q", back.Data)
	}

	resp, err = http.Get(hs.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if h.Status != "ok" || h.Channels["mesh"].Artifacts < 2 || h.Tombstones.Keys < 2 {
		t.Fatalf("health %+v", h)
	}
}

func TestChannelFromFirstPacketOverTCP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, func(string) string { return "tcp://127.0.0.1:1/unused" })
	cfg.Sink.Scheme, cfg.Sink.Listen = "tcp", "127.0.0.1:0"
	stored := make(chan artifact.Stored, 4)
	srv, err := New(cfg, Options{OnStored: func(s artifact.Stored) { stored <- s }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer srv.Close()
	go func() { _ = srv.ListenAndServe(ctx) }()
	testutil.Eventually(t, 5*time.Second, func() bool { return srv.Addr() != nil }, "listener up")

	edge := producer(t, cfg, tcp.New(), nil)
	if err := edge.AddChannel(ctx, "mesh", "tcp://"+srv.Addr().String()+"/mesh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sendSession(t, edge, "mesh", fragA, fragB)
	s := testutil.RequireReceive(t, stored, 5*time.Second, "merged file")
	if !s.Merged || s.Parts != 2 {
		t.Fatalf("stored %+v", s)
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return srv.Registry().IsChannelOpen("mesh") }, "attached by wire id")
}
