// Package telemetry keeps per-channel transfer counters and the latency
// between a packet's send timestamp and its arrival.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"holobridge/pkg/protocol"
)

// Snapshot is a point-in-time copy of a Tracker.
type Snapshot struct {
	Channel        string
	PacketsSent    uint64
	BytesSent      uint64
	PacketsRecv    uint64
	BytesRecv      uint64
	DecodeErrors   uint64
	Dropped        uint64
	Artifacts      uint64
	LastAvgLatency time.Duration
}

// Tracker accumulates counters for one channel. Latency samples are
// averaged per transfer and reported when its last chunk arrives.
type Tracker struct {
	channel string
	now     func() time.Time
	log     *zap.Logger

	sent, sentBytes atomic.Uint64
	recv, recvBytes atomic.Uint64
	decodeErrors    atomic.Uint64
	dropped         atomic.Uint64
	artifacts       atomic.Uint64

	mu      sync.Mutex
	samples int
	sum     time.Duration
	lastAvg time.Duration
}

func NewTracker(channel string) *Tracker {
	return &Tracker{
		channel: channel,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "telemetry"), zap.String("channel", channel)),
	}
}

// ObserveSent counts a packet written to the wire.
func (t *Tracker) ObserveSent(p protocol.Packet) {
	t.sent.Add(1)
	t.sentBytes.Add(uint64(len(p.Chunk.Data)))
}

// ObserveReceived records one arrival. Control packets are counted but do
// not contribute latency samples.
func (t *Tracker) ObserveReceived(p protocol.Packet) {
	t.recv.Add(1)
	t.recvBytes.Add(uint64(len(p.Chunk.Data)))
	if p.IsControl() || p.Timestamp.IsZero() {
		return
	}
	lat := t.now().Sub(p.Timestamp)
	if lat < 0 {
		lat = 0
	}
	t.mu.Lock()
	t.samples++
	t.sum += lat
	if !p.Chunk.IsLast() {
		t.mu.Unlock()
		return
	}
	avg := t.sum / time.Duration(t.samples)
	n := t.samples
	t.lastAvg, t.samples, t.sum = avg, 0, 0
	t.mu.Unlock()
	t.log.Info("transfer latency", zap.String("packet_id", p.ID), zap.Int("samples", n), zap.Duration("avg", avg))
}

func (t *Tracker) DecodeError() { t.decodeErrors.Add(1) }
func (t *Tracker) Dropped()     { t.dropped.Add(1) }
func (t *Tracker) Artifact()    { t.artifacts.Add(1) }

// Snapshot copies the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	avg := t.lastAvg
	t.mu.Unlock()
	return Snapshot{
		Channel:        t.channel,
		PacketsSent:    t.sent.Load(),
		BytesSent:      t.sentBytes.Load(),
		PacketsRecv:    t.recv.Load(),
		BytesRecv:      t.recvBytes.Load(),
		DecodeErrors:   t.decodeErrors.Load(),
		Dropped:        t.dropped.Load(),
		Artifacts:      t.artifacts.Load(),
		LastAvgLatency: avg,
	}
}
