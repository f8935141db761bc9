// Package config loads runtime configuration for the psbroker demo
// daemon (cmd/psbd), the way go-server-3's config package
// loads it: viper defaults set in code, overridable by an optional
// config file and PSB_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for cmd/psbd.
type Config struct {
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BrokerConfig controls the demo daemon's sample subscriber set.
type BrokerConfig struct {
	SampleSubscribers int           `mapstructure:"sample_subscribers"`
	SampleChannel     string        `mapstructure:"sample_channel"`
	GetTimeout        time.Duration `mapstructure:"get_timeout"`
}

// MetricsConfig controls the Prometheus/health HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and an optional
// config file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("broker.sample_subscribers", 4)
	v.SetDefault("broker.sample_channel", "demo")
	v.SetDefault("broker.get_timeout", 2*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9096")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("psbroker")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("PSB")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Broker.SampleSubscribers <= 0 {
		cfg.Broker.SampleSubscribers = 4
	}

	return cfg, nil
}
