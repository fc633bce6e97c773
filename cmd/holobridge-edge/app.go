package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"holobridge/pkg/artifact"
	"holobridge/pkg/config"
	"holobridge/pkg/edge"
	"holobridge/pkg/observability"
	"holobridge/pkg/protocol"
)

func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.EchoDir != "" {
		cfg.Edge.EchoDir = opts.EchoDir
	}
	if len(opts.Files) == 0 {
		_, _ = os.Stderr.WriteString("no files to send\n")
		return 2
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	echoes := make(chan struct{}, 16)
	c, err := edge.New(cfg, edge.Options{OnEcho: func(a protocol.Artifact, st *artifact.Stored) {
		if st != nil {
			zap.L().Info("echo stored", zap.String("path", st.Path))
		}
		select {
		case echoes <- struct{}{}:
		default:
		}
	}})
	if err != nil {
		zap.L().Error("failed to create edge client", zap.Error(err))
		return 1
	}
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		zap.L().Error("failed to start channels", zap.Error(err))
		return 1
	}

	name := opts.Channel
	if name == "" {
		name = edge.ChannelFromPath(opts.Files[0], "hands")
	}
	ids, err := c.SendFiles(name, opts.Files...)
	if err != nil {
		zap.L().Error("send failed", zap.Error(err))
		return 1
	}
	zap.L().Info("session queued", zap.String("channel", name), zap.Strings("packet_ids", ids))

	if err := c.Flush(ctx); err != nil {
		zap.L().Warn("interrupted before queues drained", zap.Error(err))
		return 1
	}
	if opts.Linger <= 0 {
		return 0
	}
	select {
	case <-echoes:
	case <-time.After(opts.Linger):
		zap.L().Info("no echo received", zap.Duration("waited", opts.Linger))
	case <-ctx.Done():
	}
	return 0
}
