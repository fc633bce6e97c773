// Package session bounds bursts of whole artifacts between start and stop
// signals on one channel and merges each burst into a single artifact.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"holobridge/pkg/protocol"
)

// Policy decides what happens to artifacts that arrive while no session
// is open.
type Policy int

const (
	// Buffer keeps them as if a session were open: the next start
	// discards them, the next stop merges them. It is the default.
	Buffer Policy = iota
	// Drop discards them.
	Drop
	// Deliver hands them on one by one. Opt-in only.
	Deliver
)

func (p Policy) String() string {
	switch p {
	case Deliver:
		return "deliver"
	case Buffer:
		return "buffer"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a config value to a Policy; "" means Buffer.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buffer":
		return Buffer, nil
	case "deliver":
		return Deliver, nil
	case "drop":
		return Drop, nil
	default:
		return 0, fmt.Errorf("session: unknown policy %q", s)
	}
}

type State int

const (
	Idle State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// Result is what a Tracker hands on: either a merged session or a single
// artifact delivered outside a session.
type Result struct {
	Channel  string
	Data     []byte
	Merged   bool
	Parts    int
	PacketID string // set for single deliveries
	At       time.Time
}

// Tracker is the per-channel session state machine. It is safe for
// concurrent use.
type Tracker struct {
	channel string
	policy  Policy
	merge   MergeFunc
	now     func() time.Time
	log     *zap.Logger

	mu    sync.Mutex
	state State
	parts []protocol.Artifact
}

// NewTracker returns an Idle tracker. A nil merge means MergeMeshes.
func NewTracker(channel string, policy Policy, merge MergeFunc) *Tracker {
	if merge == nil {
		merge = MergeMeshes
	}
	return &Tracker{
		channel: channel,
		policy:  policy,
		merge:   merge,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "session"), zap.String("channel", channel)),
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Len is the number of artifacts held for the next merge.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.parts)
}

// Handle advances the state machine with a. It returns a Result when a
// stop produced a merged artifact or a data artifact is delivered
// outside a session.
func (t *Tracker) Handle(a protocol.Artifact) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch a.PacketID {
	case protocol.IDStart:
		if n := len(t.parts); n > 0 {
			t.log.Warn("start discards unmerged artifacts", zap.Int("artifacts", n), zap.Stringer("state", t.state))
		}
		t.parts = nil
		t.state = Accumulating
		t.log.Debug("session opened")
		return Result{}, false

	case protocol.IDStop:
		wasOpen := t.state == Accumulating
		parts := t.parts
		t.parts = nil
		t.state = Idle
		if !wasOpen && t.policy != Buffer {
			t.log.Info("stop without open session")
			return Result{}, false
		}
		if len(parts) == 0 {
			t.log.Info("session closed empty")
			return Result{}, false
		}
		return t.mergeLocked(parts)
	}

	if t.state == Accumulating {
		t.parts = append(t.parts, a)
		return Result{}, false
	}
	switch t.policy {
	case Deliver:
		return Result{Channel: t.channel, Data: a.Data, Parts: 1, PacketID: a.PacketID, At: t.now()}, true
	case Drop:
		t.log.Info("dropping artifact outside session", zap.String("packet_id", a.PacketID), zap.Int("bytes", len(a.Data)))
		return Result{}, false
	default:
		t.parts = append(t.parts, a)
		return Result{}, false
	}
}

func (t *Tracker) mergeLocked(parts []protocol.Artifact) (Result, bool) {
	payloads := make([][]byte, len(parts))
	for i, p := range parts {
		payloads[i] = p.Data
	}
	data, err := t.merge(payloads)
	if err != nil {
		t.log.Error("merge failed", zap.Int("artifacts", len(parts)), zap.Error(err))
		return Result{}, false
	}
	t.log.Info("session merged", zap.Int("artifacts", len(parts)), zap.Int("bytes", len(data)))
	return Result{Channel: t.channel, Data: data, Merged: true, Parts: len(parts), At: t.now()}, true
}
