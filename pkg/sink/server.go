// Package sink is the receiving side: it accepts channel streams, runs
// start/stop sessions per channel, stores what they produce and echoes
// merged artifacts back to the producer.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"holobridge/pkg/artifact"
	"holobridge/pkg/channel"
	"holobridge/pkg/config"
	"holobridge/pkg/core/netstack"
	"holobridge/pkg/memkv"
	"holobridge/pkg/protocol"
	"holobridge/pkg/session"
	"holobridge/pkg/telemetry"
	"holobridge/pkg/transport"
)

// Options are optional hooks for embedding and tests.
type Options struct {
	// Transports resolves sink.scheme; defaults to netstack.NewByScheme.
	Transports func(scheme string) (transport.Transport, error)
	// OnStored runs after each artifact is written.
	OnStored func(artifact.Stored)
}

// Server owns the channel registry of the receiving process.
type Server struct {
	cfg   *config.Config
	opts  Options
	reg   *channel.Registry
	tombs *memkv.Store
	store *artifact.Store
	log   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session.Tracker
	listener transport.Listener
}

// New validates cfg and prepares the output directory. Nothing listens
// until ListenAndServe or Serve.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Transports == nil {
		opts.Transports = netstack.NewByScheme
	}
	store, err := artifact.NewStore(cfg.Sink.OutputDir)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		opts:     opts,
		tombs:    memkv.New(memkv.Options{}),
		store:    store,
		sessions: make(map[string]*session.Tracker),
		log:      zap.L().With(zap.String("component", "sink")),
	}
	for _, ch := range cfg.Channels {
		tr, err := ch.Session()
		if err != nil {
			s.tombs.Close()
			return nil, err
		}
		s.sessions[protocol.NormalizeChannelName(ch.Name)] = tr
	}
	ropts, err := cfg.RegistryOptions(s.tombs)
	if err != nil {
		s.tombs.Close()
		return nil, err
	}
	ropts.Handler = s.onArtifact
	s.reg = channel.NewRegistry(ropts)
	return s, nil
}

// Registry exposes the channels of attached producers.
func (s *Server) Registry() *channel.Registry { return s.reg }

// Addr is the listening address once ListenAndServe has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe opens the configured listener and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tr, err := s.opts.Transports(s.cfg.Sink.Scheme)
	if err != nil {
		return err
	}
	l, err := tr.Listen(ctx, s.cfg.Sink.Listen, s.reg.FrameLimit())
	if err != nil {
		return fmt.Errorf("sink: listen %s %s: %w", s.cfg.Sink.Scheme, s.cfg.Sink.Listen, err)
	}
	s.log.Info("listening", zap.String("scheme", s.cfg.Sink.Scheme), zap.String("addr", l.Addr().String()))
	return s.Serve(ctx, l)
}

// Health is the /healthz body on listeners that serve one.
type Health struct {
	Status     string                        `json:"status"`
	Channels   map[string]telemetry.Snapshot `json:"channels"`
	Tombstones memkv.Stats                   `json:"tombstones"`
}

// Health snapshots attached channels and the tombstone store.
func (s *Server) Health() Health {
	h := Health{Status: "ok", Channels: map[string]telemetry.Snapshot{}, Tombstones: s.tombs.Metrics()}
	for _, n := range s.reg.Names() {
		if ch, ok := s.reg.Channel(n); ok {
			h.Channels[n] = ch.Stats()
		}
	}
	return h
}

// Serve accepts streams from l until ctx is done; it closes l on return.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	if hl, ok := l.(interface{ SetHealth(func() any) }); ok {
		hl.SetHealth(func() any { return s.Health() })
	}
	defer l.Close()
	return netstack.AcceptLoop(ctx, l, func(st transport.Stream, h transport.Hint) {
		if h.Channel != "" {
			s.attach(h.Channel, st, h)
			return
		}
		go s.attachByFirstPacket(st, h)
	})
}

func (s *Server) endpoint(h transport.Hint, name string) transport.Endpoint {
	return transport.Endpoint{Scheme: s.cfg.Sink.Scheme, Host: h.Remote, Path: "/" + name, Channel: name}
}

func (s *Server) attach(name string, st transport.Stream, h transport.Hint) {
	conn := transport.NewAcceptedConn(st, s.endpoint(h, name), s.reg.Codec())
	if _, err := s.reg.Attach(name, conn); err != nil {
		s.log.Warn("rejecting stream", zap.String("channel", name), zap.String("remote", h.Remote), zap.Error(err))
		_ = conn.Close()
	}
}

// attachByFirstPacket serves schemes that do not name the channel: the
// first packet's wire id picks it.
func (s *Server) attachByFirstPacket(st transport.Stream, h transport.Hint) {
	conn := transport.NewAcceptedConn(st, s.endpoint(h, ""), s.reg.Codec())
	for {
		p, err := conn.Receive()
		if err != nil {
			var ce *protocol.CodecError
			if errors.As(err, &ce) {
				s.log.Warn("discarding undecodable first frame", zap.String("remote", h.Remote), zap.Error(err))
				continue
			}
			s.log.Info("stream ended before first packet", zap.String("remote", h.Remote), zap.Error(err))
			_ = conn.Close()
			return
		}
		name, ok := s.reg.Table().Name(p.Channel)
		if !ok {
			s.log.Warn("rejecting stream with unknown channel id", zap.Stringer("channel_id", p.Channel), zap.String("remote", h.Remote))
			_ = conn.Close()
			return
		}
		conn = transport.NewAcceptedConn(st, s.endpoint(h, name), s.reg.Codec())
		if _, err := s.reg.Attach(name, conn, p); err != nil {
			s.log.Warn("rejecting stream", zap.String("channel", name), zap.Error(err))
			_ = conn.Close()
		}
		return
	}
}

func (s *Server) tracker(name string) *session.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.sessions[name]
	if !ok {
		tr = session.NewTracker(name, session.Buffer, nil)
		s.sessions[name] = tr
	}
	return tr
}

func (s *Server) onArtifact(ch *channel.Channel, a protocol.Artifact) {
	res, ok := s.tracker(ch.Name()).Handle(a)
	if !ok {
		return
	}
	cc, _ := s.cfg.Channel(ch.Name())
	obj := cc.Merge == "" || cc.Merge == session.MergeOBJ
	ext, data := "bin", res.Data
	if obj {
		ext = "obj"
		if res.Merged {
			data = append([]byte(artifact.MergedOBJHeader), res.Data...)
		}
	}
	st, err := s.store.Write(res.Channel, ext, data, res.At)
	if err != nil {
		s.log.Error("store artifact", zap.String("channel", res.Channel), zap.Error(err))
		return
	}
	st.Merged, st.Parts = res.Merged, res.Parts
	if res.Merged && s.cfg.Sink.EchoMerged {
		if id, err := ch.Transmit(data); err != nil {
			s.log.Error("echo merged artifact", zap.String("channel", res.Channel), zap.Error(err))
		} else {
			s.log.Info("echoing merged artifact", zap.String("channel", res.Channel), zap.String("packet_id", id), zap.Int("bytes", len(data)))
		}
	}
	if s.opts.OnStored != nil {
		s.opts.OnStored(st)
	}
}

// Close stops the listener, removes every channel and releases the
// tombstone store.
func (s *Server) Close() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	var err error
	if l != nil {
		err = l.Close()
	}
	s.reg.Close()
	s.tombs.Close()
	return err
}
