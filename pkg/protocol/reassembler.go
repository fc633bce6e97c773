package protocol

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTombstoneTTL is how long a completed id keeps suppressing
	// late duplicates.
	DefaultTombstoneTTL = 2 * time.Minute
	// DefaultPartialTTL is how long an incomplete transfer survives
	// without receiving a chunk.
	DefaultPartialTTL = 5 * time.Minute
	// DefaultMaxTotalChunks bounds TotalChunks accepted from the wire.
	DefaultMaxTotalChunks = 1 << 16

	chunkMapHint = 64
	sweepEvery   = time.Second
)

// Tombstones remembers completed packet ids for a while.
type Tombstones interface {
	Mark(id string, ttl time.Duration)
	Seen(id string) bool
}

// Leases track incomplete transfers; an id that is no longer Seen has
// gone quiet for longer than its ttl.
type Leases interface {
	Tombstones
	Forget(id string)
}

// ReassemblerOptions configure a Reassembler. Zero values get defaults.
type ReassemblerOptions struct {
	Channel        string
	Tombstones     Tombstones
	TombstoneTTL   time.Duration
	Partials       Leases
	PartialTTL     time.Duration
	MaxTotalChunks int32
	Now            func() time.Time
}

type partial struct {
	channel ChannelID
	total   int32
	size    int
	chunks  map[int32][]byte
}

// Reassembler groups chunks by packet id and emits an Artifact once every
// sequence number of a transfer has arrived, in any order.
type Reassembler struct {
	mu      sync.Mutex
	opts    ReassemblerOptions
	pending map[string]*partial
	swept   time.Time
	log     *zap.Logger
}

func NewReassembler(opts ReassemblerOptions) *Reassembler {
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = DefaultTombstoneTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tombstones == nil {
		opts.Tombstones = newLocalMarks(opts.Now)
	}
	if opts.PartialTTL <= 0 {
		opts.PartialTTL = DefaultPartialTTL
	}
	if opts.Partials == nil {
		opts.Partials = newLocalMarks(opts.Now)
	}
	if opts.MaxTotalChunks <= 0 {
		opts.MaxTotalChunks = DefaultMaxTotalChunks
	}
	return &Reassembler{
		opts:    opts,
		pending: make(map[string]*partial),
		log:     zap.L().With(zap.String("component", "reassembler"), zap.String("channel", opts.Channel)),
	}
}

// Add ingests one packet. It returns the artifact and true when p completes
// a transfer; control packets are returned immediately.
func (r *Reassembler) Add(p Packet) (Artifact, bool) {
	if p.IsControl() {
		return Artifact{
			Channel:     r.opts.Channel,
			ChannelID:   p.Channel,
			PacketID:    p.ID,
			Data:        p.Chunk.Data,
			Chunks:      1,
			CompletedAt: r.opts.Now().UTC(),
		}, true
	}
	c := p.Chunk
	if c.TotalChunks < 1 || c.SequenceNumber < 0 || c.SequenceNumber >= c.TotalChunks {
		r.log.Warn("invalid chunk dropped",
			zap.String("packet_id", p.ID), zap.Int32("seq", c.SequenceNumber), zap.Int32("total", c.TotalChunks))
		return Artifact{}, false
	}
	if c.TotalChunks > r.opts.MaxTotalChunks {
		r.log.Warn("oversized transfer dropped",
			zap.String("packet_id", p.ID), zap.Int32("total", c.TotalChunks), zap.Int32("max", r.opts.MaxTotalChunks))
		return Artifact{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(false)

	if r.opts.Tombstones.Seen(p.ID) {
		r.log.Debug("chunk for completed packet ignored", zap.String("packet_id", p.ID), zap.Int32("seq", c.SequenceNumber))
		return Artifact{}, false
	}
	e, ok := r.pending[p.ID]
	if !ok {
		e = &partial{channel: p.Channel, total: c.TotalChunks, chunks: make(map[int32][]byte, min(c.TotalChunks, chunkMapHint))}
		r.pending[p.ID] = e
	}
	if e.total != c.TotalChunks {
		r.log.Warn("inconsistent total dropped",
			zap.String("packet_id", p.ID), zap.Int32("want", e.total), zap.Int32("got", c.TotalChunks))
		return Artifact{}, false
	}
	if _, dup := e.chunks[c.SequenceNumber]; dup {
		r.log.Debug("duplicate chunk ignored", zap.String("packet_id", p.ID), zap.Int32("seq", c.SequenceNumber))
		return Artifact{}, false
	}
	e.chunks[c.SequenceNumber] = c.Data
	e.size += len(c.Data)
	if int32(len(e.chunks)) != e.total {
		r.opts.Partials.Mark(p.ID, r.opts.PartialTTL)
		return Artifact{}, false
	}

	seqs := make([]int, 0, len(e.chunks))
	for s := range e.chunks {
		seqs = append(seqs, int(s))
	}
	sort.Ints(seqs)
	data := make([]byte, 0, e.size)
	for _, s := range seqs {
		data = append(data, e.chunks[int32(s)]...)
	}
	delete(r.pending, p.ID)
	r.opts.Partials.Forget(p.ID)
	r.opts.Tombstones.Mark(p.ID, r.opts.TombstoneTTL)

	return Artifact{
		Channel:     r.opts.Channel,
		ChannelID:   e.channel,
		PacketID:    p.ID,
		Data:        data,
		Chunks:      int(e.total),
		CompletedAt: r.opts.Now().UTC(),
	}, true
}

// Pending reports the number of incomplete transfers.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset drops every incomplete transfer.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	for id := range r.pending {
		r.opts.Partials.Forget(id)
	}
	r.pending = make(map[string]*partial)
	r.mu.Unlock()
}

// Sweep drops incomplete transfers whose lease ran out and returns how
// many were dropped. Add runs it at most once a second.
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(true)
}

func (r *Reassembler) sweepLocked(force bool) int {
	now := r.opts.Now()
	if !force && now.Sub(r.swept) < sweepEvery {
		return 0
	}
	r.swept = now
	var n int
	for id, e := range r.pending {
		if r.opts.Partials.Seen(id) {
			continue
		}
		delete(r.pending, id)
		n++
		r.log.Warn("incomplete transfer expired",
			zap.String("packet_id", id), zap.Int("received", len(e.chunks)), zap.Int32("total", e.total))
	}
	return n
}

// localMarks is the fallback when no shared store is configured.
type localMarks struct {
	mu   sync.Mutex
	now  func() time.Time
	till map[string]time.Time
}

func newLocalMarks(now func() time.Time) *localMarks {
	return &localMarks{now: now, till: make(map[string]time.Time)}
}

func (l *localMarks) Forget(id string) {
	l.mu.Lock()
	delete(l.till, id)
	l.mu.Unlock()
}

func (l *localMarks) Mark(id string, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, t := range l.till {
		if !now.Before(t) {
			delete(l.till, k)
		}
	}
	l.till[id] = now.Add(ttl)
}

func (l *localMarks) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.till[id]
	return ok && l.now().Before(t)
}
