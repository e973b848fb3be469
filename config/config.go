// ABOUTME: Runtime configuration: backend location, timeouts, relay bind address, logging, and rendering.
// ABOUTME: Layers defaults, an optional YAML file, .env files, and OVERWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OVERWATCH_"

// Limits on MaxSearchEvents.
const (
	MinSearchEvents = 1
	MaxSearchEvents = 50
)

// Config holds every tunable setting.
type Config struct {
	BackendURL      string        `yaml:"backend_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	StreamTimeout   time.Duration `yaml:"stream_timeout"`
	MaxSearchEvents int           `yaml:"max_search_events"`
	Bind            string        `yaml:"bind"`
	LogLevel        string        `yaml:"log_level"`
	Retry           string        `yaml:"retry"`
	RenderCacheTTL  time.Duration `yaml:"render_cache_ttl"`
	TerminalStyle   string        `yaml:"terminal_style"`
	TerminalWidth   int           `yaml:"terminal_width"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BackendURL:      "http://127.0.0.1:8000",
		RequestTimeout:  30 * time.Second,
		StreamTimeout:   5 * time.Minute,
		MaxSearchEvents: 5,
		Bind:            "127.0.0.1:2390",
		LogLevel:        "info",
		Retry:           "standard",
		RenderCacheTTL:  time.Minute,
		TerminalWidth:   100,
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// OVERWATCH_CONFIG or the default config directory is used if a file exists
// there. Environment variables override file values.
func Load(path string) (Config, error) {
	cfg := Default()

	LoadDotEnvAuto()

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
			path, explicit = p, true
		} else if dir, err := DefaultConfigDir(); err == nil {
			path = filepath.Join(dir, "config.yaml")
		}
	}
	if path != "" {
		if err := cfg.mergeFile(path, explicit); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays YAML values from path. A missing file is an error only
// when the path was given explicitly.
func (c *Config) mergeFile(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays OVERWATCH_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("BACKEND_URL", &c.BackendURL)
	str("BIND", &c.Bind)
	str("LOG_LEVEL", &c.LogLevel)
	str("RETRY", &c.Retry)
	str("TERMINAL_STYLE", &c.TerminalStyle)
	return errors.Join(
		dur("REQUEST_TIMEOUT", &c.RequestTimeout),
		dur("STREAM_TIMEOUT", &c.StreamTimeout),
		dur("RENDER_CACHE_TTL", &c.RenderCacheTTL),
		num("MAX_SEARCH_EVENTS", &c.MaxSearchEvents),
		num("TERMINAL_WIDTH", &c.TerminalWidth),
	)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BackendURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("backend_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("backend_url: scheme must be http or https, got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("backend_url: missing host"))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.StreamTimeout < 0 {
		errs = append(errs, errors.New("stream_timeout must not be negative"))
	}
	if c.MaxSearchEvents < MinSearchEvents || c.MaxSearchEvents > MaxSearchEvents {
		errs = append(errs, fmt.Errorf("max_search_events must be between %d and %d, got %d", MinSearchEvents, MaxSearchEvents, c.MaxSearchEvents))
	}
	if c.Bind == "" {
		errs = append(errs, errors.New("bind must not be empty"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Retry {
	case "none", "standard", "aggressive":
	default:
		errs = append(errs, fmt.Errorf("retry must be none, standard, or aggressive, got %q", c.Retry))
	}
	if c.RenderCacheTTL < 0 {
		errs = append(errs, errors.New("render_cache_ttl must not be negative"))
	}
	if c.TerminalWidth < 0 {
		errs = append(errs, errors.New("terminal_width must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug, info, warn, or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
	}
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/overwatch, falling back to
// ~/.config/overwatch.
func DefaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "overwatch"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "overwatch"), nil
}
