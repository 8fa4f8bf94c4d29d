package config

// Service configuration for engined. Layering is deterministic:
// built-in defaults -> YAML file (optional) -> ENGINE_* environment
// overrides. Later layers win.

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = 7777
	DefaultWorkers       = 4
	DefaultMaxEventsKept = 10000

	MaxFileBytes = 2 << 20
)

var ErrInvalid = errors.New("config: invalid")

// Journal configures the optional durable event journal. An empty DSN
// disables it.
type Journal struct {
	Driver string `yaml:"driver"` // "sqlite3" or "postgres"
	DSN    string `yaml:"dsn"`
}

// Config is the full engined configuration.
type Config struct {
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	Workers       int     `yaml:"workers"`
	MaxEventsKept int     `yaml:"max_events_kept"`
	OpsAddr       string  `yaml:"ops_addr"` // empty disables the HTTP ops surface
	LogLevel      string  `yaml:"log_level"`
	Journal       Journal `yaml:"journal"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:          DefaultPort,
		Workers:       DefaultWorkers,
		MaxEventsKept: DefaultMaxEventsKept,
		LogLevel:      "info",
	}
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if len(b) > MaxFileBytes {
			return Config{}, fmt.Errorf("%w: file %s exceeds %d bytes", ErrInvalid, path, MaxFileBytes)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bounds and fills empty fields with defaults.
func (c *Config) Validate() error {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 1 || c.Workers > 1024 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	}
	if c.MaxEventsKept == 0 {
		c.MaxEventsKept = DefaultMaxEventsKept
	}
	if c.MaxEventsKept < 1 {
		return fmt.Errorf("%w: max_events_kept %d", ErrInvalid, c.MaxEventsKept)
	}
	switch c.Journal.Driver {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("%w: journal driver %q", ErrInvalid, c.Journal.Driver)
	}
	if c.Journal.DSN != "" && c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite3"
	}
	return nil
}

// ListenAddr returns the host:port the TCP acceptor binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func applyEnv(cfg *Config) {
	if v, ok := lookup("ENGINE_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookupInt("ENGINE_PORT"); ok {
		cfg.Port = v
	}
	if v, ok := lookupInt("ENGINE_WORKERS"); ok {
		cfg.Workers = v
	}
	if v, ok := lookupInt("ENGINE_MAX_EVENTS_KEPT"); ok {
		cfg.MaxEventsKept = v
	}
	if v, ok := lookup("ENGINE_OPS_ADDR"); ok {
		cfg.OpsAddr = v
	}
	if v, ok := lookup("ENGINE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("ENGINE_JOURNAL_DRIVER"); ok {
		cfg.Journal.Driver = v
	}
	if v, ok := lookup("ENGINE_JOURNAL_DSN"); ok {
		cfg.Journal.DSN = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func lookupInt(key string) (int, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
