package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"holobridge/pkg/config"
	"holobridge/pkg/observability"
	"holobridge/pkg/sink"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Sink.Listen = opts.Listen
	}
	if opts.Scheme != "" {
		cfg.Sink.Scheme = opts.Scheme
	}
	if opts.OutputDir != "" {
		cfg.Sink.OutputDir = opts.OutputDir
	}
	if opts.NoEcho {
		cfg.Sink.EchoMerged = false
	}
	if err := cfg.Validate(); err != nil {
		_, _ = os.Stderr.WriteString("invalid config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("holobridge-sink started", zap.String("app", cfg.AppName))
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := sink.New(cfg, sink.Options{})
	if err != nil {
		zap.L().Error("failed to create sink", zap.Error(err))
		return 1
	}
	defer srv.Close()

	if err := srv.ListenAndServe(ctx); err != nil {
		zap.L().Error("sink stopped", zap.Error(err))
		return 1
	}
	zap.L().Info("shutting down")
	return 0
}
