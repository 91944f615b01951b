package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultFile   = "merechat.toml"
	EnvPrefix     = "MERECHAT_"
	defaultDotEnv = ".env"
)

type Config struct {
	BaseURL        string   `toml:"base_url" env:"BASE_URL"`
	Service        string   `toml:"service" env:"SERVICE"`
	WSService      string   `toml:"ws_service" env:"WS_SERVICE"`
	UploadURL      string   `toml:"upload_url" env:"UPLOAD_URL"`
	UploadEntity   string   `toml:"upload_entity" env:"UPLOAD_ENTITY"`
	UploadPostType string   `toml:"upload_post_type" env:"UPLOAD_POST_TYPE"`
	DBFile         string   `toml:"db_file" env:"DB"`
	Account        string   `toml:"account" env:"ACCOUNT"`
	Sender         string   `toml:"sender" env:"SENDER"`
	ReconnectBase  Duration `toml:"reconnect_base" env:"RECONNECT_BASE"`
	ReconnectMax   Duration `toml:"reconnect_max" env:"RECONNECT_MAX"`
	RequestTimeout Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	TypingInterval Duration `toml:"typing_interval" env:"TYPING_INTERVAL"`
	SessionTTL     Duration `toml:"session_ttl" env:"SESSION_TTL"`
	LogLevel       string   `toml:"log_level" env:"LOG_LEVEL"`
	MetricsAddr    string   `toml:"metrics_addr" env:"METRICS_ADDR"`
}

// Duration is a time.Duration written as "1s" or "1m30s" in files and environment.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() *Config {
	return &Config{
		Service:        "merechats",
		WSService:      "merechat",
		UploadEntity:   "chat",
		UploadPostType: "photo",
		DBFile:         "merechat.db",
		Account:        "default",
		Sender:         "me",
		ReconnectBase:  Duration{time.Second},
		ReconnectMax:   Duration{30 * time.Second},
		RequestTimeout: Duration{15 * time.Second},
		TypingInterval: Duration{1500 * time.Millisecond},
		SessionTTL:     Duration{24 * time.Hour},
		LogLevel:       "info",
	}
}

// Load builds the configuration from defaults, the TOML file at path,
// a .env file and MERECHAT_* environment variables, later layers winning.
// A missing file is not an error unless the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.readFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := godotenv.Load(defaultDotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", defaultDotEnv, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("MERECHAT_BASE_URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base URL %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.Service == "" || c.WSService == "" {
		return fmt.Errorf("service names must not be empty")
	}

	for name, d := range map[string]Duration{
		"reconnect_base":  c.ReconnectBase,
		"reconnect_max":   c.ReconnectMax,
		"request_timeout": c.RequestTimeout,
		"typing_interval": c.TypingInterval,
		"session_ttl":     c.SessionTTL,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	if c.ReconnectBase.Duration > c.ReconnectMax.Duration {
		return fmt.Errorf("reconnect_base (%s) must not exceed reconnect_max (%s)", c.ReconnectBase, c.ReconnectMax)
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// TOML renders the effective configuration.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}
