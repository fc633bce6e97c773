package config

import (
	"fmt"
	"strings"

	"holobridge/pkg/protocol/codec"
	"holobridge/pkg/transport"
)

// Validate normalizes c in place and rejects values the rest of the
// system cannot run with.
func (c *Config) Validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if c.Transfer.MaxChunkBytes <= 0 {
		return fmt.Errorf("invalid transfer.max_chunk_bytes: %d", c.Transfer.MaxChunkBytes)
	}
	if c.Transfer.FrameMarginBytes < 0 {
		return fmt.Errorf("invalid transfer.frame_margin_bytes: %d", c.Transfer.FrameMarginBytes)
	}
	if c.Transfer.MaxArtifactBytes < int64(c.Transfer.MaxChunkBytes) {
		return fmt.Errorf("invalid transfer.max_artifact_bytes: %d (below max_chunk_bytes)", c.Transfer.MaxArtifactBytes)
	}
	if c.Transfer.PartialTTLMS < 0 {
		return fmt.Errorf("invalid transfer.partial_ttl_ms: %d", c.Transfer.PartialTTLMS)
	}
	c.Transfer.Codec = strings.ToLower(strings.TrimSpace(c.Transfer.Codec))
	if c.Transfer.Codec == "" {
		c.Transfer.Codec = "msgpack"
	}
	reg, err := codec.NewRegistry()
	if err != nil {
		return err
	}
	if reg.Get(c.Transfer.Codec) == nil {
		return fmt.Errorf("invalid transfer.codec: %q (have %v)", c.Transfer.Codec, reg.Names())
	}
	if c.Net.SendMaxAttempts <= 0 {
		c.Net.SendMaxAttempts = 3
	}

	if _, err := c.ChannelTable(); err != nil {
		return err
	}
	if _, err := c.Settings(); err != nil {
		return err
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		ch.Merge = strings.ToLower(strings.TrimSpace(ch.Merge))
		if _, err := ch.Session(); err != nil {
			return err
		}
		if ch.Endpoint != "" {
			if _, err := transport.ParseEndpoint(ch.Endpoint); err != nil {
				return fmt.Errorf("channels[%d].endpoint: %w", i, err)
			}
		}
	}

	c.Sink.Scheme = strings.ToLower(strings.TrimSpace(c.Sink.Scheme))
	switch c.Sink.Scheme {
	case "":
		c.Sink.Scheme = "ws"
	case "ws", "tcp", "quic", "mem", "pipe":
	default:
		return fmt.Errorf("invalid sink.scheme: %q", c.Sink.Scheme)
	}
	return nil
}
