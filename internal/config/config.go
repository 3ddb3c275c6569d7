package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/chalk/internal/instance"
	"github.com/dyluth/chalk/pkg/blackboard"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "chalk.yml"

// Environment variables that override file values.
const (
	EnvInstance = "CHALK_INSTANCE"
	EnvSession  = "CHALK_SESSION"
	EnvRedisURL = "CHALK_REDIS_URL"
	EnvBackend  = "CHALK_BACKEND"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// ChalkConfig represents the top-level chalk.yml configuration
type ChalkConfig struct {
	Version  string         `yaml:"version"`
	Instance string         `yaml:"instance"`
	Session  string         `yaml:"session,omitempty"`
	Store    StoreConfig    `yaml:"store"`
	Findings FindingsConfig `yaml:"findings"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Summary  SummaryConfig  `yaml:"summary"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig selects and configures the document store backend
type StoreConfig struct {
	Backend    string `yaml:"backend"`               // "redis" or "sqlite"
	RedisURL   string `yaml:"redis_url,omitempty"`   // Used when backend=redis
	Namespace  string `yaml:"namespace,omitempty"`   // Redis key namespace
	SQLitePath string `yaml:"sqlite_path,omitempty"` // Used when backend=sqlite
}

// FindingsConfig holds finding defaults
type FindingsConfig struct {
	DefaultScope blackboard.Scope `yaml:"default_scope"`
}

// TasksConfig holds task defaults
type TasksConfig struct {
	DefaultPriority *int `yaml:"default_priority,omitempty"` // 0..4, default 2
}

// SummaryConfig bounds the compaction summary
type SummaryConfig struct {
	ItemChars int `yaml:"item_chars"` // Per-item content budget
	MaxItems  int `yaml:"max_items"`  // Items per section
	MaxChars  int `yaml:"max_chars"`  // Whole report
}

// LogConfig configures zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration used when no chalk.yml exists.
func Default() *ChalkConfig {
	c := &ChalkConfig{Version: "1.0"}
	c.applyDefaults()
	return c
}

// Priority returns the configured default task priority.
func (t TasksConfig) Priority() int {
	if t.DefaultPriority == nil {
		return 2
	}
	return *t.DefaultPriority
}

func (c *ChalkConfig) applyDefaults() {
	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendRedis
	}
	if c.Store.RedisURL == "" {
		c.Store.RedisURL = instance.DefaultRedisURL()
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = "chalk"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = ".chalk/board.sqlite"
	}
	if c.Findings.DefaultScope == "" {
		c.Findings.DefaultScope = blackboard.ScopeSession
	}
	if c.Tasks.DefaultPriority == nil {
		p := 2
		c.Tasks.DefaultPriority = &p
	}
	if c.Summary.ItemChars == 0 {
		c.Summary.ItemChars = 200
	}
	if c.Summary.MaxItems == 0 {
		c.Summary.MaxItems = 10
	}
	if c.Summary.MaxChars == 0 {
		c.Summary.MaxChars = 8000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate applies defaults then performs strict validation on the configuration
func (c *ChalkConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if err := instance.ValidateName(c.Instance); err != nil {
		return fmt.Errorf("instance: %w", err)
	}
	if c.Session != "" {
		if err := instance.ValidateName(c.Session); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}

	switch c.Store.Backend {
	case BackendRedis:
		if !strings.HasPrefix(c.Store.RedisURL, "redis://") && !strings.HasPrefix(c.Store.RedisURL, "rediss://") {
			return fmt.Errorf("store.redis_url must start with redis:// or rediss://, got %q", c.Store.RedisURL)
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'redis' or 'sqlite')", c.Store.Backend)
	}

	if err := c.Findings.DefaultScope.Validate(); err != nil {
		return fmt.Errorf("findings.default_scope: %w", err)
	}
	if err := blackboard.ValidatePriority(*c.Tasks.DefaultPriority); err != nil {
		return fmt.Errorf("tasks.default_priority: %w", err)
	}

	if c.Summary.ItemChars < 1 || c.Summary.MaxItems < 1 || c.Summary.MaxChars < 1 {
		return fmt.Errorf("summary budgets must be positive (item_chars=%d, max_items=%d, max_chars=%d)",
			c.Summary.ItemChars, c.Summary.MaxItems, c.Summary.MaxChars)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %s (must be 'console' or 'json')", c.Log.Format)
	}

	return nil
}

// ApplyEnv overrides file values from the environment. lookup is usually
// os.LookupEnv.
func (c *ChalkConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvInstance); ok && v != "" {
		c.Instance = v
	}
	if v, ok := lookup(EnvSession); ok {
		c.Session = v
	}
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.Store.RedisURL = v
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Store.Backend = v
	}
}

// Load reads chalk.yml from the specified path, applies environment
// overrides and validates. A missing file yields the defaults.
func Load(path string) (*ChalkConfig, error) {
	if path == "" {
		path = DefaultPath
	}

	config := &ChalkConfig{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		config.Version = "1.0"
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
