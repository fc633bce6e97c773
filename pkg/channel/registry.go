// Package channel implements named streams over transport connections and
// the registry that owns them.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"holobridge/pkg/core/netstack"
	"holobridge/pkg/memkv"
	"holobridge/pkg/protocol"
	"holobridge/pkg/protocol/codec"
	"holobridge/pkg/transport"
)

// ErrUnknownChannel is returned for names missing from the channel table
// or the registry.
var ErrUnknownChannel = errors.New("channel: unknown channel")

// Options configure a Registry and every channel it creates.
type Options struct {
	Table            *protocol.ChannelTable
	Codec            codec.Codec
	MaxChunkBytes    int
	FrameMarginBytes int
	TombstoneTTL     time.Duration
	PartialTTL       time.Duration // idle time before an incomplete transfer is dropped
	MaxTotalChunks   int32
	// Tombstones backs both completed ids and incomplete transfer leases.
	Tombstones *memkv.Store

	IdleInterval    time.Duration
	RetryInterval   time.Duration
	MaxSendAttempts int
	Redial          bool
	Backoff         netstack.Backoff

	Settings   map[string]Settings // keyed by canonical channel name
	Handler    Handler
	Transports func(scheme string) (transport.Transport, error)
}

func (o *Options) withDefaults() {
	if o.Table == nil {
		o.Table = protocol.DefaultChannelTable()
	}
	if o.Codec == nil {
		o.Codec = codec.Msgpack()
	}
	if o.MaxChunkBytes <= 0 {
		o.MaxChunkBytes = 128 << 10
	}
	if o.FrameMarginBytes <= 0 {
		o.FrameMarginBytes = 20
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = 100 * time.Millisecond
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.MaxSendAttempts <= 0 {
		o.MaxSendAttempts = 3
	}
	if o.Transports == nil {
		o.Transports = netstack.NewByScheme
	}
	if o.Settings == nil {
		o.Settings = map[string]Settings{}
	}
}

// Registry maps channel names to live channels.
type Registry struct {
	opts Options

	mu       sync.Mutex
	channels map[string]*Channel
	log      *zap.Logger
}

func NewRegistry(opts Options) *Registry {
	opts.withDefaults()
	return &Registry{
		opts:     opts,
		channels: make(map[string]*Channel),
		log:      zap.L().With(zap.String("component", "channel-registry")),
	}
}

// FrameLimit is the largest frame channels of this registry accept.
func (r *Registry) FrameLimit() int {
	return protocol.FrameLimit(r.opts.Codec, r.opts.MaxChunkBytes, r.opts.FrameMarginBytes)
}

// Codec returns the wire codec.
func (r *Registry) Codec() codec.Codec { return r.opts.Codec }

// Table returns the channel table.
func (r *Registry) Table() *protocol.ChannelTable { return r.opts.Table }

// AddChannel registers name and connects it to endpoint. It is a no-op when
// name is already registered. A failed connect is logged; the channel stays
// registered and, with redial enabled, keeps reconnecting.
func (r *Registry) AddChannel(ctx context.Context, name, endpoint string) error {
	key := protocol.NormalizeChannelName(name)
	id, ok := r.opts.Table.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	ep, err := transport.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	tr, err := r.opts.Transports(ep.Scheme)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.channels[key]; exists {
		r.mu.Unlock()
		r.log.Info("channel already registered", zap.String("channel", key))
		return nil
	}
	conn := transport.NewConn(ep, tr, r.opts.Codec, r.FrameLimit())
	ch := newChannel(key, id, conn, r.opts.Redial, &r.opts)
	// reserved before connecting so concurrent adds stay no-ops
	r.channels[key] = ch
	r.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		r.log.Warn("initial connect failed", zap.String("channel", key), zap.String("endpoint", endpoint), zap.Error(err))
	} else {
		r.log.Info("channel connected", zap.String("channel", key), zap.String("endpoint", endpoint))
	}
	ch.start()
	return nil
}

// Attach registers name over an already open connection, replacing any
// channel of the same name. The channel is removed when its stream ends.
// Packets already read off conn are passed as pending and are dispatched
// before the receive loop starts.
func (r *Registry) Attach(name string, conn *transport.Conn, pending ...protocol.Packet) (*Channel, error) {
	key := protocol.NormalizeChannelName(name)
	id, ok := r.opts.Table.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	ch := newChannel(key, id, conn, false, &r.opts)
	ch.onEnded = r.removeExact

	r.mu.Lock()
	old := r.channels[key]
	r.channels[key] = ch
	r.mu.Unlock()
	if old != nil {
		r.log.Info("replacing channel with newer connection", zap.String("channel", key))
		old.stop()
	}
	for _, p := range pending {
		ch.dispatch(p)
	}
	ch.start()
	return ch, nil
}

// RemoveChannel stops and forgets name; unknown names are a no-op.
func (r *Registry) RemoveChannel(name string) {
	key := protocol.NormalizeChannelName(name)
	r.mu.Lock()
	ch := r.channels[key]
	delete(r.channels, key)
	r.mu.Unlock()
	if ch == nil {
		r.log.Warn("remove of unknown channel", zap.String("channel", key))
		return
	}
	ch.stop()
	r.log.Info("channel removed", zap.String("channel", key))
}

func (r *Registry) removeExact(ch *Channel) {
	r.mu.Lock()
	if r.channels[ch.name] != ch {
		r.mu.Unlock()
		return
	}
	delete(r.channels, ch.name)
	r.mu.Unlock()
	ch.stop()
	r.log.Info("channel closed by peer", zap.String("channel", ch.name))
}

// Channel returns the live channel for name.
func (r *Registry) Channel(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[protocol.NormalizeChannelName(name)]
	return ch, ok
}

// IsChannelOpen reports whether name exists and its transport is open.
func (r *Registry) IsChannelOpen(name string) bool {
	ch, ok := r.Channel(name)
	return ok && ch.IsOpen()
}

// Names lists registered channels.
func (r *Registry) Names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.channels))
	for k := range r.channels {
		out = append(out, k)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Enqueue appends p to name's queue and reports whether the channel exists.
func (r *Registry) Enqueue(name string, p protocol.Packet) bool {
	ch, ok := r.Channel(name)
	if !ok {
		r.log.Warn("enqueue to unknown channel", zap.String("channel", name), zap.String("packet_id", p.ID))
		return false
	}
	ch.Enqueue(p)
	return true
}

// Broadcast queues a copy of p on every channel, tagged with each
// channel's wire id.
func (r *Registry) Broadcast(p protocol.Packet) {
	r.mu.Lock()
	chs := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chs = append(chs, ch)
	}
	r.mu.Unlock()
	for _, ch := range chs {
		q := p
		q.Channel = ch.id
		ch.Enqueue(q)
	}
}

// Transmit queues data as one transfer on name.
func (r *Registry) Transmit(name string, data []byte) (string, error) {
	ch, ok := r.Channel(name)
	if !ok {
		r.log.Warn("transmit to unknown channel", zap.String("channel", name))
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return ch.Transmit(data)
}

// SendSignal queues a start or stop signal on name.
func (r *Registry) SendSignal(name string, start bool) bool {
	ch, ok := r.Channel(name)
	if !ok {
		r.log.Warn("signal to unknown channel", zap.String("channel", name), zap.Bool("start", start))
		return false
	}
	ch.Signal(start)
	return true
}

// Close removes every channel.
func (r *Registry) Close() {
	for _, n := range r.Names() {
		r.RemoveChannel(n)
	}
}
