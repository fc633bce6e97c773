// Package edge is the producing side: it registers the configured
// channels, sends artifacts wrapped in start/stop sessions and keeps what
// the sink echoes back.
package edge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"holobridge/pkg/artifact"
	"holobridge/pkg/channel"
	"holobridge/pkg/config"
	"holobridge/pkg/memkv"
	"holobridge/pkg/protocol"
	"holobridge/pkg/session"
	"holobridge/pkg/transport"
)

// Options are optional hooks for embedding and tests.
type Options struct {
	Transports func(scheme string) (transport.Transport, error)
	// OnEcho runs for every data artifact received from the sink.
	OnEcho func(protocol.Artifact, *artifact.Stored)
}

// Client drives the channels of one producer.
type Client struct {
	cfg   *config.Config
	opts  Options
	reg   *channel.Registry
	tombs *memkv.Store
	echo  *artifact.Store
	log   *zap.Logger
}

func New(cfg *config.Config, opts Options) (*Client, error) {
	c := &Client{
		cfg:   cfg,
		opts:  opts,
		tombs: memkv.New(memkv.Options{}),
		log:   zap.L().With(zap.String("component", "edge")),
	}
	if cfg.Edge.EchoDir != "" {
		st, err := artifact.NewStore(cfg.Edge.EchoDir)
		if err != nil {
			c.tombs.Close()
			return nil, err
		}
		c.echo = st
	}
	ropts, err := cfg.RegistryOptions(c.tombs)
	if err != nil {
		c.tombs.Close()
		return nil, err
	}
	ropts.Handler = c.onArtifact
	if opts.Transports != nil {
		ropts.Transports = opts.Transports
	}
	c.reg = channel.NewRegistry(ropts)
	return c, nil
}

func (c *Client) Registry() *channel.Registry { return c.reg }

// Start registers every configured channel that has an endpoint. A sink
// that is not up yet is not an error; channels keep reconnecting.
func (c *Client) Start(ctx context.Context) error {
	for _, ch := range c.cfg.Channels {
		if ch.Endpoint == "" {
			continue
		}
		if err := c.reg.AddChannel(ctx, ch.Name, ch.Endpoint); err != nil {
			return fmt.Errorf("edge: channel %q: %w", ch.Name, err)
		}
	}
	return nil
}

// Send queues artifacts on name as one session: start, every artifact,
// stop. It returns the transfer ids. Concurrent calls on one channel
// queue whole sessions one after another.
func (c *Client) Send(name string, artifacts ...[]byte) ([]string, error) {
	ch, ok := c.reg.Channel(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", channel.ErrUnknownChannel, name)
	}
	return ch.TransmitSession(artifacts...)
}

// SendFiles reads every path and sends the contents as one session.
func (c *Client) SendFiles(name string, paths ...string) ([]string, error) {
	payloads := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("edge: read %s: %w", p, err)
		}
		payloads = append(payloads, b)
	}
	c.log.Info("sending files", zap.String("channel", name), zap.Int("files", len(paths)))
	return c.Send(name, payloads...)
}

// Flush waits until every channel queue has drained.
func (c *Client) Flush(ctx context.Context) error {
	var errs []error
	for _, n := range c.reg.Names() {
		ch, ok := c.reg.Channel(n)
		if !ok {
			continue
		}
		if err := ch.WaitIdle(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) onArtifact(ch *channel.Channel, a protocol.Artifact) {
	if a.IsControl() {
		return
	}
	var stored *artifact.Stored
	if c.echo != nil {
		ext := "bin"
		if cc, _ := c.cfg.Channel(ch.Name()); cc.Merge == "" || cc.Merge == session.MergeOBJ {
			ext = "obj"
		}
		st, err := c.echo.Write(ch.Name(), ext, a.Data, a.CompletedAt)
		if err != nil {
			c.log.Error("store echoed artifact", zap.String("channel", ch.Name()), zap.Error(err))
		} else {
			stored = &st
		}
	}
	c.log.Info("artifact received from sink", zap.String("channel", ch.Name()), zap.String("packet_id", a.PacketID), zap.Int("bytes", len(a.Data)))
	if c.opts.OnEcho != nil {
		c.opts.OnEcho(a, stored)
	}
}

// Close removes every channel.
func (c *Client) Close() {
	c.reg.Close()
	c.tombs.Close()
}

// ChannelFromPath guesses the channel for a file from its extension: OBJ
// meshes go to mesh, anything else to fallback.
func ChannelFromPath(path, fallback string) string {
	if strings.EqualFold(filepath.Ext(path), ".obj") {
		return "mesh"
	}
	return fallback
}
