// Package config loads the rate-limit core's runtime configuration with
// spf13/viper, mirroring the teacher's mapstructure-tagged config layout and
// adding fsnotify-driven live reload for the fields that are safe to change
// without a restart.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/store"
)

// Config is the full process configuration.
type Config struct {
	Environment string `mapstructure:"environment"`

	Server struct {
		Host         string        `mapstructure:"host"`
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	Admin struct {
		Host           string   `mapstructure:"host"`
		Port           int      `mapstructure:"port"`
		CORSOrigins    []string `mapstructure:"cors_origins"`
		ThrottleRPS    float64  `mapstructure:"throttle_rps"`
		ThrottleBurst  int      `mapstructure:"throttle_burst"`
	} `mapstructure:"admin"`

	Redis store.RedisConfig `mapstructure:"redis"`

	Queue struct {
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"queue"`

	Identifier struct {
		TrustXForwardedFor bool `mapstructure:"trust_x_forwarded_for"`
	} `mapstructure:"identifier"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads configuration from ./config/config.yaml (or the working
// directory), environment variables, and built-in defaults. Within viper's
// own merge, environment variables override the file and the file
// overrides the defaults.
func Load() (*Config, error) {
	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Watch starts watching the config file for changes and invokes onChange
// with the freshly reloaded Config whenever it changes. This is purely for
// ambient server settings (timeouts, throttle knobs, log level); rule data
// is never polled and only changes via an explicit Refresh call triggered
// by the admin API (SPEC_FULL.md §4.1). Errors during reload are passed to
// onError instead of interrupting the watch.
func Watch(onChange func(*Config), onError func(error)) {
	v := newViper()
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("reloading config after %s: %w", e.Name, err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 8081)
	v.SetDefault("admin.cors_origins", []string{"*"})
	v.SetDefault("admin.throttle_rps", 20.0)
	v.SetDefault("admin.throttle_burst", 40)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")

	v.SetDefault("queue.sweep_interval", "60s")
	v.SetDefault("identifier.trust_x_forwarded_for", false)

	v.SetDefault("kafka.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.AutomaticEnv()
	v.SetEnvPrefix("ratelimiter")

	return v
}
