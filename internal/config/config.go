// Package config loads the gateway's ambient configuration: listen
// addresses, upstream timeouts, transport keepalive intervals, logging, and
// the optional session-ledger persistence backend. Values come from
// environment variables (MCPGW_ prefix) and an optional YAML file, the way
// kagenti-mcp-gateway leans on viper-style precedence for its runtime
// settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the gateway's process-wide configuration.
type Config struct {
	// ListenAddr serves the MCP-facing SSE and streamable-HTTP transports.
	ListenAddr string `mapstructure:"listen_addr"`
	// AdminListenAddr serves the endpoint CRUD and status surfaces.
	AdminListenAddr string `mapstructure:"admin_listen_addr"`

	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	// SSEKeepalive is loaded but not passed to the SSE transport, which
	// sends keepalive comments on its own fixed 20s interval.
	SSEKeepalive time.Duration `mapstructure:"sse_keepalive_interval"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "text"

	// RedisURL, when set, backs the SessionLedger with durable storage.
	// Empty means in-memory only.
	RedisURL   string        `mapstructure:"redis_url"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// AdminToken, when set, is required as a Bearer token on admin requests.
	AdminToken string `mapstructure:"admin_token"`
}

// Load reads configuration from environment variables prefixed MCPGW_ and,
// if configFile is non-empty, from that YAML file as a lower-priority
// layer. Defaults are applied for anything left unset.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MCPGW")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_listen_addr", ":8081")
	v.SetDefault("upstream_timeout", 30*time.Second)
	v.SetDefault("sse_keepalive_interval", 15*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("session_ttl", 24*time.Hour)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	return &cfg, nil
}

// Logger builds the process's root structured logger per LogLevel/LogFormat.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	var handler slog.Handler
	if c.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
