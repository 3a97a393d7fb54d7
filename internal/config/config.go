package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Poll    PollConfig    `yaml:"poll"`
	Stream  StreamConfig  `yaml:"stream"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mock    MockConfig    `yaml:"mock"`

	// Test is the load test submitted by `stressmon run`.
	Test *client.TestConfig `yaml:"test,omitempty"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	WSURL   string        `yaml:"ws_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type PollConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MaxEmptyPolls int           `yaml:"max_empty_polls"`
}

type StreamConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Listen is the address for the Prometheus endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

type MockConfig struct {
	Listen    string        `yaml:"listen"`
	TestTTL   time.Duration `yaml:"test_ttl"`
	Tick      time.Duration `yaml:"tick"`
	LevelTime time.Duration `yaml:"level_time"`
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: 10 * time.Second,
		},
		Poll: PollConfig{
			Interval:      time.Second,
			MaxEmptyPolls: 10,
		},
		Stream: StreamConfig{
			ReconnectDelay: time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mock: MockConfig{
			Listen:    "127.0.0.1:8000",
			TestTTL:   time.Hour,
			Tick:      250 * time.Millisecond,
			LevelTime: 3 * time.Second,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		result = multierror.Append(result, fmt.Errorf("api.base_url %q must be an http(s) URL", c.API.BaseURL))
	}
	if c.API.WSURL != "" {
		if u, err := url.Parse(c.API.WSURL); err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
			result = multierror.Append(result, fmt.Errorf("api.ws_url %q must be a ws(s) URL", c.API.WSURL))
		}
	}
	if c.API.Timeout <= 0 {
		result = multierror.Append(result, errors.New("api.timeout must be positive"))
	}
	if c.Poll.Interval <= 0 {
		result = multierror.Append(result, errors.New("poll.interval must be positive"))
	}
	if c.Poll.MaxEmptyPolls <= 0 {
		result = multierror.Append(result, errors.New("poll.max_empty_polls must be positive"))
	}
	if c.Stream.ReconnectDelay <= 0 {
		result = multierror.Append(result, errors.New("stream.reconnect_delay must be positive"))
	}
	if c.Stream.PingInterval <= 0 || c.Stream.PongTimeout <= c.Stream.PingInterval {
		result = multierror.Append(result, errors.New("stream.pong_timeout must exceed a positive stream.ping_interval"))
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		result = multierror.Append(result, fmt.Errorf("log.format %q must be text, json or logfmt", c.Log.Format))
	}
	if c.Test != nil {
		if err := c.Test.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("test: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// WSBase returns the push-channel base URL, derived from the HTTP base URL
// (http://host:port -> ws://host:port) when ws_url is unset.
func (c *Config) WSBase() string {
	if c.API.WSURL != "" {
		return strings.TrimRight(c.API.WSURL, "/")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" {
		return "ws://127.0.0.1:8000"
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, strings.TrimRight(u.Path, "/"))
}
