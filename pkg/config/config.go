// Package config provides YAML-based configuration loading for holobridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the process
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Transfer holds chunking and wire format settings
	Transfer TransferConfig `mapstructure:"transfer"`

	// Channels declares every logical stream, its endpoint and its wire id
	Channels []ChannelConfig `mapstructure:"channels"`

	// Net holds send loop and reconnect tuning
	Net NetConfig `mapstructure:"net"`

	// Sink configures the receiving process
	Sink SinkConfig `mapstructure:"sink"`

	// Edge configures the producing process
	Edge EdgeConfig `mapstructure:"edge"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TransferConfig sizes chunks and frames and picks the wire codec.
type TransferConfig struct {
	MaxChunkBytes    int    `mapstructure:"max_chunk_bytes"`
	FrameMarginBytes int    `mapstructure:"frame_margin_bytes"`
	Codec            string `mapstructure:"codec"` // msgpack, cbor, json, proto
	TombstoneTTLMS   int    `mapstructure:"tombstone_ttl_ms"`
	PartialTTLMS     int    `mapstructure:"partial_ttl_ms"`
	MaxArtifactBytes int64  `mapstructure:"max_artifact_bytes"`
}

// SinkConfig configures the listener of the receiving process.
type SinkConfig struct {
	Scheme     string `mapstructure:"scheme"` // ws, tcp, quic, mem, pipe
	Listen     string `mapstructure:"listen"`
	OutputDir  string `mapstructure:"output_dir"`
	EchoMerged bool   `mapstructure:"echo_merged"`
}

// EdgeConfig configures the producing process.
type EdgeConfig struct {
	// EchoDir receives artifacts the sink sends back; empty disables storing
	EchoDir string `mapstructure:"echo_dir"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "holobridge",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/holobridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transfer: TransferConfig{
			MaxChunkBytes:    128 << 10,
			FrameMarginBytes: 20,
			Codec:            "msgpack",
			TombstoneTTLMS:   120000,
			PartialTTLMS:     300000,
			MaxArtifactBytes: 1 << 30,
		},
		Channels: []ChannelConfig{
			{Name: "mesh", Endpoint: "ws://127.0.0.1:8080/mesh", LineAligned: true, Merge: "obj"},
			{Name: "hands", Endpoint: "ws://127.0.0.1:8080/hands", Merge: "concat"},
		},
		Net: NetConfig{
			SendIdleMS:           100,
			SendRetryMS:          5000,
			SendMaxAttempts:      3,
			Redial:               true,
			DialBackoffInitialMS: 500,
			DialBackoffMaxMS:     30000,
			DialBackoffJitterMS:  100,
		},
		Sink: SinkConfig{
			Scheme:     "ws",
			Listen:     ":8080",
			OutputDir:  "./received",
			EchoMerged: true,
		},
		Edge: EdgeConfig{EchoDir: "./echoed"},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix HOLOBRIDGE and `.`/`-` are replaced with `_`.
// Example: HOLOBRIDGE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOLOBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("transfer.max_chunk_bytes", cfg.Transfer.MaxChunkBytes)
	v.SetDefault("transfer.frame_margin_bytes", cfg.Transfer.FrameMarginBytes)
	v.SetDefault("transfer.codec", cfg.Transfer.Codec)
	v.SetDefault("transfer.tombstone_ttl_ms", cfg.Transfer.TombstoneTTLMS)
	v.SetDefault("transfer.partial_ttl_ms", cfg.Transfer.PartialTTLMS)
	v.SetDefault("transfer.max_artifact_bytes", cfg.Transfer.MaxArtifactBytes)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("net.send_idle_ms", cfg.Net.SendIdleMS)
	v.SetDefault("net.send_retry_ms", cfg.Net.SendRetryMS)
	v.SetDefault("net.send_max_attempts", cfg.Net.SendMaxAttempts)
	v.SetDefault("net.redial", cfg.Net.Redial)
	v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
	v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
	v.SetDefault("sink.scheme", cfg.Sink.Scheme)
	v.SetDefault("sink.listen", cfg.Sink.Listen)
	v.SetDefault("sink.output_dir", cfg.Sink.OutputDir)
	v.SetDefault("sink.echo_merged", cfg.Sink.EchoMerged)
	v.SetDefault("edge.echo_dir", cfg.Edge.EchoDir)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("HOLOBRIDGE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("holobridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".holobridge"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
