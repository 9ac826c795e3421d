// Package config loads service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file (path
// from the --config flag or TASKBOARD_CONFIG), then environment variables.
// A .env file in the working directory is loaded into the environment by the
// command before Load runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Addr           string         `yaml:"addr"`
	SecretKey      string         `yaml:"secret_key"`
	AccessTTL      time.Duration  `yaml:"access_token_ttl"`
	RefreshTTL     time.Duration  `yaml:"refresh_token_ttl"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	SchedulerToken string         `yaml:"scheduler_token"`
	Realtime       RealtimeConfig `yaml:"realtime"`
}

// RealtimeConfig tunes the websocket gateway.
type RealtimeConfig struct {
	// PingInterval is how often the server pings an idle client.
	PingInterval time.Duration `yaml:"ping_interval"`
	// PongWait is how long a connection may stay silent before it is
	// considered dead. Must exceed PingInterval.
	PongWait    time.Duration `yaml:"pong_wait"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	SendBuffer  int           `yaml:"send_buffer"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Addr:       "0.0.0.0:8000",
		AccessTTL:  60 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		Realtime: RealtimeConfig{
			PingInterval: 25 * time.Second,
			PongWait:     60 * time.Second,
			SendTimeout:  5 * time.Second,
			SendBuffer:   16,
		},
	}
}

// Load builds the configuration. An empty path falls back to
// TASKBOARD_CONFIG; when neither is set no file is read.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("TASKBOARD_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration the service cannot run with.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.PongWait <= c.Realtime.PingInterval {
		return errors.New("realtime pong_wait must exceed ping_interval")
	}
	if c.Realtime.SendTimeout <= 0 || c.Realtime.SendBuffer <= 0 {
		return errors.New("realtime send_timeout and send_buffer must be positive")
	}
	return nil
}

func applyEnv(c *Config) error {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := os.Getenv("SCHEDULER_TOKEN"); v != "" {
		c.SchedulerToken = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ACCESS_TOKEN_TTL", &c.AccessTTL},
		{"REFRESH_TOKEN_TTL", &c.RefreshTTL},
		{"WS_PING_INTERVAL", &c.Realtime.PingInterval},
		{"WS_PONG_WAIT", &c.Realtime.PongWait},
		{"WS_SEND_TIMEOUT", &c.Realtime.SendTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("WS_SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WS_SEND_BUFFER: %w", err)
		}
		c.Realtime.SendBuffer = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
