// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/joeshaw/envdecode"
)

// Log formats accepted by LOG_FORMAT.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
	LogFormatDev  = "dev"
)

// Config is decoded from environment variables. Defaults live in the
// struct tags.
type Config struct {
	// Host to bind. Empty binds every interface. ENV: HOST
	Host string `env:"HOST"`
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=3000"`
	// BaseURL is the public URL used in tool results and the REST index.
	// When empty it is derived from each request. ENV: BASE_URL
	BaseURL string `env:"BASE_URL"`

	SessionTTL           time.Duration `env:"SESSION_TTL,default=10m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL"`
	AutoAuthDelay        time.Duration `env:"AUTO_AUTH_DELAY,default=10s"`
	CartPolicy           string        `env:"CART_POLICY,default=single"`

	// RedisAddr switches the session store to Redis when set.
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=retail:"`

	// SearchAPIURL switches product search to an upstream HTTP API. The
	// bundled fixture catalog is used when it is empty.
	SearchAPIURL  string        `env:"SEARCH_API_URL"`
	SearchAPIKey  string        `env:"SEARCH_API_KEY"`
	SearchTimeout time.Duration `env:"SEARCH_TIMEOUT,default=10s"`

	WidgetsDir         string        `env:"WIDGETS_DIR"`
	MountsFile         string        `env:"MOUNTS_FILE"`
	KeepAliveInterval  time.Duration `env:"KEEPALIVE_INTERVAL,default=25s"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS,default=*"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// StdioServer names a logical server to serve over stdin/stdout instead
	// of starting the HTTP listener. ENV: STDIO_SERVER
	StdioServer string `env:"STDIO_SERVER"`
}

// Load decodes Config from the environment and validates it. Values that do
// not parse, such as PORT=abc, are errors rather than silently ignored.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks fields envdecode cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if _, err := cart.ParsePolicy(c.CartPolicy); err != nil {
		errs = append(errs, fmt.Errorf("CART_POLICY: %w", err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatText, LogFormatDev:
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be one of json, text, dev: got %q", c.LogFormat))
	}
	for name, d := range map[string]time.Duration{
		"SESSION_TTL":            c.SessionTTL,
		"SESSION_SWEEP_INTERVAL": c.SessionSweepInterval,
		"AUTO_AUTH_DELAY":        c.AutoAuthDelay,
		"SEARCH_TIMEOUT":         c.SearchTimeout,
		"KEEPALIVE_INTERVAL":     c.KeepAliveInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// Policy parses CartPolicy. Validate has already rejected bad values.
func (c *Config) Policy() cart.Policy {
	p, _ := cart.ParsePolicy(c.CartPolicy)
	return p
}

// AllowedOrigins splits CORSAllowedOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
