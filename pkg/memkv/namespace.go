package memkv

import "time"

var mark = []byte{1}

// Namespace is a prefixed view of a Store used as a set of ids that
// expire. It satisfies protocol.Tombstones and protocol.Leases.
type Namespace struct {
	s      *Store
	prefix string
}

// Namespace returns a view whose keys are prefixed with prefix.
func (s *Store) Namespace(prefix string) *Namespace { return &Namespace{s: s, prefix: prefix} }

// Mark records id for ttl.
func (n *Namespace) Mark(id string, ttl time.Duration) { n.s.Set(n.prefix+id, mark, ttl) }

// Seen reports whether id was marked and has not expired.
func (n *Namespace) Seen(id string) bool { return n.s.Exists(n.prefix + id) }

// Forget removes id.
func (n *Namespace) Forget(id string) { n.s.Delete(n.prefix + id) }
