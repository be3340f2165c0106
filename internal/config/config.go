package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the console's runtime configuration. Values come from the
// yaml file, overridden by environment variables, with defaults filled
// by Load.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// TrackerURL is the REST base of the tracking service; StreamURL is
	// its websocket base. When StreamURL is empty it is derived from
	// TrackerURL by swapping the scheme.
	TrackerURL string `yaml:"tracker_url"`
	StreamURL  string `yaml:"stream_url"`

	// Optional infrastructure. Empty means disabled.
	RedisAddr   string `yaml:"redis_addr"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	Poll struct {
		IntervalMs int `yaml:"interval_ms"`
		MaxTicks   int `yaml:"max_ticks"`
	} `yaml:"poll"`

	Stream struct {
		ReconnectDelayMs int `yaml:"reconnect_delay_ms"`
	} `yaml:"stream"`
}

// Load reads the yaml file (optional: a missing path just yields
// defaults), applies env overrides and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Env overrides (deployment-level knobs).
	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("TRACKER_URL"); v != "" {
		cfg.TrackerURL = v
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		cfg.StreamURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}

	// Defaults.
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.TrackerURL == "" {
		cfg.TrackerURL = "http://localhost:8000"
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = deriveStreamURL(cfg.TrackerURL)
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = "console.events"
	}
	if cfg.Poll.IntervalMs == 0 {
		cfg.Poll.IntervalMs = 2000
	}
	if cfg.Poll.MaxTicks == 0 {
		cfg.Poll.MaxTicks = 15
	}
	if cfg.Stream.ReconnectDelayMs == 0 {
		cfg.Stream.ReconnectDelayMs = 3000
	}

	return cfg, nil
}

func deriveStreamURL(trackerURL string) string {
	switch {
	case strings.HasPrefix(trackerURL, "https://"):
		return "wss://" + strings.TrimPrefix(trackerURL, "https://")
	case strings.HasPrefix(trackerURL, "http://"):
		return "ws://" + strings.TrimPrefix(trackerURL, "http://")
	}
	return trackerURL
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectDelayMs) * time.Millisecond
}
