package config

import (
	"fmt"
	"math"
	"time"

	"holobridge/pkg/channel"
	"holobridge/pkg/compress"
	"holobridge/pkg/memkv"
	"holobridge/pkg/protocol"
	"holobridge/pkg/protocol/codec"
	"holobridge/pkg/session"
)

// ChannelConfig declares one logical stream.
// Example YAML:
// channels:
//   - name: mesh
//     endpoint: ws://10.0.0.2:8080/mesh
//     line_aligned: true
//     merge: obj
//   - name: depth
//     wire_id: 7
//     endpoint: quic://10.0.0.2:4433/depth
//     compression: zstd
//     outside_session: buffer
type ChannelConfig struct {
	Name     string `mapstructure:"name"`
	Endpoint string `mapstructure:"endpoint"`
	// WireID may be omitted for the built-in mesh (0) and hands (1)
	WireID               *int   `mapstructure:"wire_id"`
	LineAligned          bool   `mapstructure:"line_aligned"`
	Compression          string `mapstructure:"compression"`     // none, lz4, zstd
	Merge                string `mapstructure:"merge"`           // obj, concat
	OutsideSession       string `mapstructure:"outside_session"` // buffer (default), drop, deliver
	RateLimitBytesPerSec int64  `mapstructure:"rate_limit_bytes_per_sec"`
}

// ChannelTable builds the name to wire id table from the channel list.
func (c *Config) ChannelTable() (*protocol.ChannelTable, error) {
	builtin := protocol.DefaultChannelTable()
	entries := make(map[string]protocol.ChannelID, len(c.Channels))
	for i, ch := range c.Channels {
		name := protocol.NormalizeChannelName(ch.Name)
		if name == "" {
			return nil, fmt.Errorf("channels[%d]: %w", i, protocol.ErrEmptyChannelName)
		}
		if _, dup := entries[name]; dup {
			return nil, fmt.Errorf("channels[%d]: %w: %q", i, protocol.ErrDuplicateChannelName, ch.Name)
		}
		var id protocol.ChannelID
		switch {
		case ch.WireID != nil:
			if *ch.WireID < 0 {
				return nil, fmt.Errorf("channels[%d]: negative wire_id %d", i, *ch.WireID)
			}
			id = protocol.ChannelID(*ch.WireID)
		default:
			known, ok := builtin.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("channels[%d]: wire_id required for channel %q", i, ch.Name)
			}
			id = known
		}
		entries[name] = id
	}
	if len(entries) == 0 {
		return builtin, nil
	}
	return protocol.NewChannelTable(entries)
}

// Channel returns the declaration for name.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	key := protocol.NormalizeChannelName(name)
	for _, ch := range c.Channels {
		if protocol.NormalizeChannelName(ch.Name) == key {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

// Settings converts the per-channel knobs for the channel package.
func (c *Config) Settings() (map[string]channel.Settings, error) {
	out := make(map[string]channel.Settings, len(c.Channels))
	for _, ch := range c.Channels {
		tag, err := compress.ParseTag(ch.Compression)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
		}
		out[protocol.NormalizeChannelName(ch.Name)] = channel.Settings{
			LineAligned:          ch.LineAligned,
			Compression:          tag,
			RateLimitBytesPerSec: ch.RateLimitBytesPerSec,
		}
	}
	return out, nil
}

// Session builds the session tracker for one channel.
func (ch ChannelConfig) Session() (*session.Tracker, error) {
	policy, err := session.ParsePolicy(ch.OutsideSession)
	if err != nil {
		return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
	}
	merge, err := session.MergeByName(ch.Merge)
	if err != nil {
		return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
	}
	return session.NewTracker(protocol.NormalizeChannelName(ch.Name), policy, merge), nil
}

// RegistryOptions assembles channel registry options from the transfer,
// net and channel sections. Tombstones are stored in tombs; Handler is
// left for the caller.
func (c *Config) RegistryOptions(tombs *memkv.Store) (channel.Options, error) {
	table, err := c.ChannelTable()
	if err != nil {
		return channel.Options{}, err
	}
	reg, err := codec.NewRegistry()
	if err != nil {
		return channel.Options{}, err
	}
	cd := reg.Get(c.Transfer.Codec)
	if cd == nil {
		return channel.Options{}, fmt.Errorf("unknown transfer.codec %q (have %v)", c.Transfer.Codec, reg.Names())
	}
	settings, err := c.Settings()
	if err != nil {
		return channel.Options{}, err
	}
	return channel.Options{
		Table:            table,
		Codec:            cd,
		MaxChunkBytes:    c.Transfer.MaxChunkBytes,
		FrameMarginBytes: c.Transfer.FrameMarginBytes,
		TombstoneTTL:     c.Transfer.TombstoneTTL(),
		Tombstones:       tombs,
		PartialTTL:       ms(c.Transfer.PartialTTLMS),
		MaxTotalChunks:   c.Transfer.MaxTotalChunks(),
		IdleInterval:     ms(c.Net.SendIdleMS),
		RetryInterval:    ms(c.Net.SendRetryMS),
		MaxSendAttempts:  c.Net.SendMaxAttempts,
		Redial:           c.Net.Redial,
		Backoff:          c.Net.Backoff(),
		Settings:         settings,
	}, nil
}

// MaxTotalChunks is the largest chunk count a max_artifact_bytes transfer
// can need; bigger totals on the wire are dropped.
func (t TransferConfig) MaxTotalChunks() int32 {
	if t.MaxArtifactBytes <= 0 || t.MaxChunkBytes <= 0 {
		return 0
	}
	n := (t.MaxArtifactBytes + int64(t.MaxChunkBytes) - 1) / int64(t.MaxChunkBytes)
	return int32(min(n, math.MaxInt32))
}

// TombstoneTTL is how long completed packet ids are remembered.
func (t TransferConfig) TombstoneTTL() time.Duration { return ms(t.TombstoneTTLMS) }
