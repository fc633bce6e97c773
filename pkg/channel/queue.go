package channel

import (
	"sync"

	"holobridge/pkg/protocol"
)

// Queue is an unbounded FIFO of packets with many producers and one
// consumer. The consumer peeks the head, sends it, and pops it only after
// the send succeeded or was abandoned.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.Packet
	head   int
	notify chan struct{}
}

func NewQueue() *Queue { return &Queue{notify: make(chan struct{}, 1)} }

// Push appends p.
func (q *Queue) Push(p protocol.Packet) { q.PushAll(p) }

// PushAll appends ps contiguously.
func (q *Queue) PushAll(ps ...protocol.Packet) {
	if len(ps) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, ps...)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return protocol.Packet{}, false
	}
	return q.items[q.head], true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return protocol.Packet{}, false
	}
	p := q.items[q.head]
	q.items[q.head] = protocol.Packet{}
	q.head++
	// compact once the consumed prefix dominates
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return p, true
}

// Len reports the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Drain drops everything queued and returns how many packets were dropped.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	q.items, q.head = nil, 0
	return n
}

// Ready is signalled after a push; it may fire spuriously.
func (q *Queue) Ready() <-chan struct{} { return q.notify }
