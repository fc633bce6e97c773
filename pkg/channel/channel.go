package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"holobridge/pkg/compress"
	"holobridge/pkg/protocol"
	"holobridge/pkg/telemetry"
	"holobridge/pkg/transport"
)

// Handler receives every completed artifact, control signals included.
// It runs on the channel's receive goroutine.
type Handler func(ch *Channel, a protocol.Artifact)

// Settings are the per-channel knobs.
type Settings struct {
	LineAligned          bool
	Compression          compress.Tag
	RateLimitBytesPerSec int64
}

// Channel is one named stream: an outbound FIFO drained by a send loop,
// and a receive loop feeding a Reassembler.
type Channel struct {
	name     string
	id       protocol.ChannelID
	settings Settings
	opts     *Options
	redial   bool

	conn    *transport.Conn
	queue   *Queue
	asm     *protocol.Reassembler
	shaper  *TokenBucket
	stats   *telemetry.Tracker
	handler Handler
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rmu       sync.Mutex
	receiving bool
	down      chan struct{}

	// onEnded runs once the receive loop of a channel without redial ends
	// on its own.
	onEnded func(*Channel)
}

func newChannel(name string, id protocol.ChannelID, conn *transport.Conn, redial bool, opts *Options) *Channel {
	s := opts.Settings[name]
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		name:     name,
		id:       id,
		settings: s,
		opts:     opts,
		redial:   redial,
		conn:     conn,
		queue:    NewQueue(),
		stats:    telemetry.NewTracker(name),
		handler:  opts.Handler,
		log:      zap.L().With(zap.String("channel", name)),
		ctx:      ctx,
		cancel:   cancel,
		down:     make(chan struct{}, 1),
	}
	ropts := protocol.ReassemblerOptions{
		Channel:        name,
		TombstoneTTL:   opts.TombstoneTTL,
		PartialTTL:     opts.PartialTTL,
		MaxTotalChunks: opts.MaxTotalChunks,
	}
	if opts.Tombstones != nil {
		ropts.Tombstones = opts.Tombstones.Namespace("done:" + name + ":")
		ropts.Partials = opts.Tombstones.Namespace("partial:" + name + ":")
	}
	c.asm = protocol.NewReassembler(ropts)
	if s.RateLimitBytesPerSec > 0 {
		burst := max(s.RateLimitBytesPerSec, int64(opts.MaxChunkBytes))
		c.shaper = NewTokenBucket(s.RateLimitBytesPerSec, burst)
	}
	return c
}

func (c *Channel) Name() string                 { return c.name }
func (c *Channel) ID() protocol.ChannelID       { return c.id }
func (c *Channel) IsOpen() bool                 { return c.conn.IsOpen() }
func (c *Channel) State() transport.State       { return c.conn.State() }
func (c *Channel) QueueLen() int                { return c.queue.Len() }
func (c *Channel) Pending() int                 { return c.asm.Pending() }
func (c *Channel) Stats() telemetry.Snapshot    { return c.stats.Snapshot() }
func (c *Channel) Endpoint() transport.Endpoint { return c.conn.Endpoint() }

// Enqueue appends p to the outbound queue.
func (c *Channel) Enqueue(p protocol.Packet) { c.queue.Push(p) }

// Signal queues a start (start == true) or stop control packet behind
// everything already queued.
func (c *Channel) Signal(start bool) { c.queue.Push(protocol.NewControl(start, c.id)) }

// Transmit compresses data when configured, splits it and queues all of
// its chunks contiguously. It returns the transfer id, or "" for empty data.
func (c *Channel) Transmit(data []byte) (string, error) {
	id, pkts, err := c.transfer(data)
	if err != nil || id == "" {
		return "", err
	}
	c.queue.PushAll(pkts...)
	c.log.Debug("artifact queued", zap.String("packet_id", id), zap.Int("bytes", len(data)), zap.Int("chunks", len(pkts)))
	return id, nil
}

// TransmitSession queues start, every artifact and stop in one push, so
// concurrent sessions on the channel never interleave. Nothing is queued
// when an artifact fails to encode. Empty artifacts are skipped.
func (c *Channel) TransmitSession(artifacts ...[]byte) ([]string, error) {
	ids := make([]string, 0, len(artifacts))
	pkts := []protocol.Packet{protocol.NewControl(true, c.id)}
	for _, a := range artifacts {
		id, tp, err := c.transfer(a)
		if err != nil {
			return nil, err
		}
		if id == "" {
			continue
		}
		ids = append(ids, id)
		pkts = append(pkts, tp...)
	}
	pkts = append(pkts, protocol.NewControl(false, c.id))
	c.queue.PushAll(pkts...)
	c.log.Debug("session queued", zap.Int("artifacts", len(ids)), zap.Int("packets", len(pkts)))
	return ids, nil
}

func (c *Channel) transfer(data []byte) (string, []protocol.Packet, error) {
	payload, aligned := data, c.settings.LineAligned
	if c.settings.Compression != compress.None {
		var err error
		if payload, err = compress.Compress(c.settings.Compression, data); err != nil {
			return "", nil, err
		}
		aligned = false
	}
	chunks, err := protocol.Split(payload, c.opts.MaxChunkBytes, aligned)
	if err != nil {
		return "", nil, err
	}
	if len(chunks) == 0 {
		return "", nil, nil
	}
	id := protocol.NewPacketID()
	return id, protocol.NewTransfer(id, c.id, chunks), nil
}

// Inject runs p through the receive path as if it had been read from the
// connection.
func (c *Channel) Inject(p protocol.Packet) { c.dispatch(p) }

// WaitIdle blocks until the outbound queue is empty or ctx is done.
func (c *Channel) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for c.queue.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return errors.New("channel removed")
		case <-t.C:
		}
	}
	return nil
}

func (c *Channel) start() {
	c.wg.Add(1)
	go c.sendLoop()
	if c.conn.IsOpen() {
		c.startReceiver()
	} else {
		c.markDown()
	}
	if c.redial {
		c.wg.Add(1)
		go c.redialLoop()
	}
}

// stop cancels both loops, closes the transport and waits for the loops.
func (c *Channel) stop() {
	c.cancel()
	if err := c.conn.Close(); err != nil {
		c.log.Debug("close transport", zap.Error(err))
	}
	c.wg.Wait()
	if n := c.queue.Drain(); n > 0 {
		c.log.Info("dropped queued packets on removal", zap.Int("packets", n))
	}
	c.asm.Reset()
}

func (c *Channel) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Channel) sendLoop() {
	defer c.wg.Done()
	attempts := 0
	for c.ctx.Err() == nil {
		p, ok := c.queue.Peek()
		if !ok {
			t := time.NewTimer(c.opts.IdleInterval)
			select {
			case <-c.ctx.Done():
				t.Stop()
				return
			case <-c.queue.Ready():
			case <-t.C:
			}
			t.Stop()
			continue
		}
		if !c.conn.IsOpen() {
			c.log.Debug("transport not open, holding queue", zap.Int("queued", c.queue.Len()))
			if !c.sleep(c.opts.RetryInterval) {
				return
			}
			continue
		}
		if c.shaper != nil && attempts == 0 {
			if err := c.shaper.Wait(c.ctx, int64(len(p.Chunk.Data))); err != nil {
				return
			}
		}
		err := c.conn.Send(p)
		if err == nil {
			attempts = 0
			c.stats.ObserveSent(p)
			c.queue.Pop()
			continue
		}
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, transport.ErrNotOpen) {
			continue
		}
		attempts++
		if attempts >= c.opts.MaxSendAttempts {
			c.log.Error("dropping packet after repeated send failures",
				zap.String("packet_id", p.ID), zap.Int32("seq", p.Chunk.SequenceNumber),
				zap.Int("attempts", attempts), zap.Error(err))
			c.queue.Pop()
			c.stats.Dropped()
			attempts = 0
			continue
		}
		c.log.Warn("send failed, retrying", zap.String("packet_id", p.ID), zap.Int("attempt", attempts), zap.Error(err))
		if !c.sleep(c.opts.IdleInterval) {
			return
		}
	}
}

func (c *Channel) startReceiver() {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if c.receiving || c.ctx.Err() != nil {
		return
	}
	c.receiving = true
	c.wg.Add(1)
	go c.receiveLoop()
}

func (c *Channel) markDown() {
	select {
	case c.down <- struct{}{}:
	default:
	}
}

func (c *Channel) receiveLoop() {
	defer c.wg.Done()
	defer func() {
		c.rmu.Lock()
		c.receiving = false
		c.rmu.Unlock()
		c.markDown()
		if !c.redial && c.onEnded != nil && c.ctx.Err() == nil {
			go c.onEnded(c)
		}
	}()
	for {
		p, err := c.conn.Receive()
		if err != nil {
			var ce *protocol.CodecError
			switch {
			case errors.As(err, &ce):
				c.stats.DecodeError()
				c.log.Warn("discarding undecodable frame", zap.Error(err))
				continue
			case c.ctx.Err() != nil:
				return
			case errors.Is(err, io.EOF):
				c.log.Info("stream ended")
			default:
				c.log.Error("receive failed", zap.Error(err))
			}
			return
		}
		c.dispatch(p)
	}
}

func (c *Channel) dispatch(p protocol.Packet) {
	c.stats.ObserveReceived(p)
	a, ok := c.asm.Add(p)
	if !ok {
		return
	}
	if !a.IsControl() {
		if c.settings.Compression != compress.None {
			data, err := compress.Decompress(c.settings.Compression, a.Data)
			if err != nil {
				c.log.Warn("dropping artifact that failed to decompress", zap.String("packet_id", a.PacketID), zap.Error(err))
				return
			}
			a.Data = data
		}
		c.stats.Artifact()
		c.log.Debug("artifact complete", zap.String("packet_id", a.PacketID), zap.Int("bytes", len(a.Data)), zap.Int("chunks", a.Chunks))
	}
	if c.handler != nil {
		c.handler(c, a)
	}
}

// redialLoop reconnects after the receive loop ended, with backoff.
func (c *Channel) redialLoop() {
	defer c.wg.Done()
	b := c.opts.Backoff
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.down:
		}
		for !c.conn.IsOpen() {
			err := c.conn.Connect(c.ctx)
			if err == nil {
				break
			}
			if c.ctx.Err() != nil {
				return
			}
			d := b.Next()
			c.log.Warn("reconnect failed", zap.Duration("retry_in", d), zap.Error(err))
			if !c.sleep(d) {
				return
			}
		}
		b.Reset()
		c.log.Info("connected", zap.String("endpoint", c.conn.Endpoint().String()))
		c.startReceiver()
	}
}
