package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrEmptyChannelName     = errors.New("protocol: empty channel name")
	ErrDuplicateChannelName = errors.New("protocol: duplicate channel name")
	ErrDuplicateChannelID   = errors.New("protocol: duplicate channel id")
)

// ChannelTable maps channel names onto wire ids, one-to-one and
// case-insensitively.
type ChannelTable struct {
	byName map[string]ChannelID
	byID   map[ChannelID]string
}

// DefaultChannelTable holds the two built-in channels.
func DefaultChannelTable() *ChannelTable {
	t, _ := NewChannelTable(map[string]ChannelID{"mesh": ChannelMesh, "hands": ChannelHands})
	return t
}

// NewChannelTable validates entries and builds a table.
func NewChannelTable(entries map[string]ChannelID) (*ChannelTable, error) {
	t := &ChannelTable{byName: make(map[string]ChannelID, len(entries)), byID: make(map[ChannelID]string, len(entries))}
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := t.Add(n, entries[n]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add registers one more name.
func (t *ChannelTable) Add(name string, id ChannelID) error {
	key := NormalizeChannelName(name)
	if key == "" {
		return ErrEmptyChannelName
	}
	if _, ok := t.byName[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateChannelName, name)
	}
	if other, ok := t.byID[id]; ok {
		return fmt.Errorf("%w: %d used by %q and %q", ErrDuplicateChannelID, id, other, key)
	}
	t.byName[key] = id
	t.byID[id] = key
	return nil
}

// Lookup resolves a channel name.
func (t *ChannelTable) Lookup(name string) (ChannelID, bool) {
	id, ok := t.byName[NormalizeChannelName(name)]
	return id, ok
}

// Name resolves a wire id back to its canonical name.
func (t *ChannelTable) Name(id ChannelID) (string, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// Names returns the canonical names in id order.
func (t *ChannelTable) Names() []string {
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[ChannelID(id)])
	}
	return out
}

// NormalizeChannelName returns the canonical (trimmed, lower-case) form.
func NormalizeChannelName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
