package config

import (
	"time"

	"holobridge/pkg/core/netstack"
)

// NetConfig contains send loop and reconnect tuning.
type NetConfig struct {
	SendIdleMS      int  `mapstructure:"send_idle_ms"`
	SendRetryMS     int  `mapstructure:"send_retry_ms"`
	SendMaxAttempts int  `mapstructure:"send_max_attempts"`
	Redial          bool `mapstructure:"redial"`

	DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
	DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
	DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`
}

// Backoff returns the reconnect schedule.
func (n NetConfig) Backoff() netstack.Backoff {
	return netstack.Backoff{
		Initial: ms(n.DialBackoffInitialMS),
		Max:     ms(n.DialBackoffMaxMS),
		Jitter:  ms(n.DialBackoffJitterMS),
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
