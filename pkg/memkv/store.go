package memkv

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Options configure a Store. Zero values get defaults.
type Options struct {
	Shards        int              // power of two; default 64
	SweepInterval time.Duration    // default 1s
	MaxKeys       int              // 0 means unlimited
	Now           func() time.Time // clock, for tests
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 64
	}
	n := 1
	for n < o.Shards {
		n <<= 1
	}
	o.Shards = n
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store is a sharded map of byte values with optional expiry.
type Store struct {
	opts   Options
	shards []shard
	mask   uint32

	keys    atomic.Int64
	sets    atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64
	dels    atomic.Uint64

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

type shard struct {
	mu sync.RWMutex
	m  map[string]entry
}

type entry struct {
	val     []byte
	expires int64 // unix nanos; 0 means no expiry
}

func (e entry) expiredAt(now int64) bool { return e.expires != 0 && now >= e.expires }

// New builds a store and starts its sweeper.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		mask:    uint32(opts.Shards - 1),
		closeCh: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]entry)
	}
	s.wg.Add(1)
	go s.sweeper()
	return s
}

// Close stops the sweeper. The store stays readable.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
	})
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()&s.mask]
}

func (s *Store) now() int64 { return s.opts.Now().UnixNano() }

func (s *Store) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now() + int64(ttl)
}

// Set stores a copy of val. A non-positive ttl means no expiry. It returns
// false when the key is new and the store is at MaxKeys.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	sh := s.shardFor(key)
	v := append([]byte(nil), val...)
	exp := s.deadline(ttl)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	old, exists := sh.m[key]
	if exists && old.expiredAt(now) {
		exists = false
		s.keys.Add(-1)
		s.expired.Add(1)
	}
	if !exists {
		if s.opts.MaxKeys > 0 && s.keys.Load() >= int64(s.opts.MaxKeys) {
			delete(sh.m, key)
			return false
		}
		s.keys.Add(1)
	}
	sh.m[key] = entry{val: v, expires: exp}
	s.sets.Add(1)
	return true
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(key string) bool {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok || e.expiredAt(s.now()) {
		s.misses.Add(1)
		return false
	}
	s.hits.Add(1)
	return true
}

// Delete removes key and reports whether a live value was removed.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	delete(sh.m, key)
	s.keys.Add(-1)
	if e.expiredAt(s.now()) {
		s.expired.Add(1)
		return false
	}
	s.dels.Add(1)
	return true
}

// Stats is a snapshot of store counters.
type Stats struct {
	Keys    int64
	Sets    uint64
	Hits    uint64
	Misses  uint64
	Expired uint64
	Dels    uint64
}

// Metrics returns current counters. Keys may include expired entries not
// yet swept.
func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.keys.Load(),
		Sets:    s.sets.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
		Dels:    s.dels.Load(),
	}
}

// Sweep removes expired entries now and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()
	var n int
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expiredAt(now) {
				delete(sh.m, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	if n > 0 {
		s.keys.Add(-int64(n))
		s.expired.Add(uint64(n))
	}
	return n
}

func (s *Store) sweeper() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-t.C:
			s.Sweep()
		}
	}
}
