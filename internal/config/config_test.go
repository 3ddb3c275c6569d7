package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chalk.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvInstance, EnvSession, EnvRedisURL, EnvBackend} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `version: "1.0"
instance: review-board
session: morning
store:
  backend: sqlite
  sqlite_path: /tmp/board.sqlite
findings:
  default_scope: persistent
tasks:
  default_priority: 0
summary:
  item_chars: 120
log:
  level: debug
  format: json
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "review-board", config.Instance)
	assert.Equal(t, "morning", config.Session)
	assert.Equal(t, BackendSQLite, config.Store.Backend)
	assert.Equal(t, "/tmp/board.sqlite", config.Store.SQLitePath)
	assert.Equal(t, blackboard.ScopePersistent, config.Findings.DefaultScope)
	assert.Equal(t, 0, config.Tasks.Priority())
	assert.Equal(t, 120, config.Summary.ItemChars)
	assert.Equal(t, 10, config.Summary.MaxItems, "unset budgets take defaults")
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	config, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def, config)
	assert.Equal(t, "default", config.Instance)
	assert.Equal(t, BackendRedis, config.Store.Backend)
	assert.Equal(t, "chalk", config.Store.Namespace)
	assert.Equal(t, blackboard.ScopeSession, config.Findings.DefaultScope)
	assert.Equal(t, 2, config.Tasks.Priority())
	assert.Equal(t, 200, config.Summary.ItemChars)
	assert.Equal(t, 8000, config.Summary.MaxChars)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvInstance, "ci-7")
	t.Setenv(EnvSession, "run-42")
	t.Setenv(EnvRedisURL, "redis://cache:6380/1")
	t.Setenv(EnvBackend, "")

	config, err := Load(writeConfig(t, `version: "1.0"
instance: local
`))
	require.NoError(t, err)
	assert.Equal(t, "ci-7", config.Instance)
	assert.Equal(t, "run-42", config.Session)
	assert.Equal(t, "redis://cache:6380/1", config.Store.RedisURL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	config, err := Load(writeConfig(t, "version: \"1.0\"\nstore:\n  - this is invalid\n    yaml syntax\n"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_Unreadable(t *testing.T) {
	clearEnv(t)
	_, err := Load(t.TempDir())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *ChalkConfig)
		errMsg string
	}{
		{"wrong version", func(c *ChalkConfig) { c.Version = "2.0" }, "unsupported version"},
		{"bad instance", func(c *ChalkConfig) { c.Instance = "Bad_Name" }, "instance"},
		{"bad session", func(c *ChalkConfig) { c.Session = "-x" }, "session"},
		{"unknown backend", func(c *ChalkConfig) { c.Store.Backend = "etcd" }, "invalid store.backend"},
		{"bad redis url", func(c *ChalkConfig) { c.Store.RedisURL = "localhost:6379" }, "redis_url"},
		{"bad scope", func(c *ChalkConfig) { c.Findings.DefaultScope = "forever" }, "default_scope"},
		{"priority out of range", func(c *ChalkConfig) { p := 9; c.Tasks.DefaultPriority = &p }, "default_priority"},
		{"negative budget", func(c *ChalkConfig) { c.Summary.MaxItems = -1 }, "summary budgets"},
		{"bad log level", func(c *ChalkConfig) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *ChalkConfig) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	t.Run("defaults validate", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}
