package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/starford/beetle/pkg/config"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Setenv(EnvHome, "/srv/beetle")
	cfg := NewDefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("/srv/beetle", "indexes"), cfg.Storage.Root)
	assert.Equal(t, ":8080", cfg.App.HTTP.Address())
	assert.True(t, cfg.Indexing.RespectIgnore)
	assert.True(t, cfg.Indexing.ExcludeBinary)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
}

func TestDefaultRoot_Home(t *testing.T) {
	t.Setenv(EnvHome, "")
	t.Setenv("HOME", "/home/dev")
	assert.Equal(t, filepath.Join("/home/dev", ".beetle", "indexes"), DefaultRoot())
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]func(*Config){
		"port zero":          func(c *Config) { c.App.HTTP.Port = 0 },
		"port too large":     func(c *Config) { c.App.HTTP.Port = 70000 },
		"empty root":         func(c *Config) { c.Storage.Root = "" },
		"negative budget":    func(c *Config) { c.Indexing.MemoryBudgetMB = -1 },
		"negative max size":  func(c *Config) { c.Indexing.MaxFileSize = -5 },
		"too many workers":   func(c *Config) { c.Indexing.Workers = 1000 },
		"negative debounce":  func(c *Config) { c.Indexing.WatchDebounce = -time.Second },
		"zero default limit": func(c *Config) { c.Search.DefaultLimit = 0 },
		"huge default limit": func(c *Config) { c.Search.DefaultLimit = 5000 },
		"tiny snippet":       func(c *Config) { c.Search.SnippetLength = 5 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_LoadYAML(t *testing.T) {
	t.Setenv("BEETLE_TEST_ROOT", "/var/lib/beetle")
	p := filepath.Join(t.TempDir(), "beetle.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
app:
  log_level: debug
  http:
    port: 9090
storage:
  root: ${BEETLE_TEST_ROOT}
indexing:
  workers: 4
  include_hidden: true
  watch: true
  watch_debounce: 2s
search:
  snippet_length: 120
`), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load(p, cfg))

	assert.Equal(t, slog.LevelDebug, cfg.App.LogLevel)
	assert.Equal(t, 9090, cfg.App.HTTP.Port)
	assert.Equal(t, "/var/lib/beetle", cfg.Storage.Root)
	assert.Equal(t, 4, cfg.Indexing.Workers)
	assert.True(t, cfg.Indexing.IncludeHidden)
	assert.True(t, cfg.Indexing.Watch)
	assert.Equal(t, 2*time.Second, cfg.Indexing.WatchDebounce)
	assert.True(t, cfg.Indexing.RespectIgnore, "unset keys keep defaults")
	assert.Equal(t, 120, cfg.Search.SnippetLength)
}

func TestConfig_LoadTOML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "beetle.toml")
	require.NoError(t, os.WriteFile(p, []byte(`
[storage]
root = "/tmp/idx"

[indexing]
memory_budget_mb = 8
max_file_size = 4096
respect_ignore = false
`), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load(p, cfg))

	assert.Equal(t, "/tmp/idx", cfg.Storage.Root)
	assert.False(t, cfg.Indexing.RespectIgnore)

	opts := cfg.Indexing.UpdateOptions(nil)
	assert.Equal(t, int64(8<<20), opts.MemoryBudget)
	assert.Equal(t, int64(4096), opts.Scan.MaxFileSize)
	assert.False(t, opts.Scan.RespectIgnore)
	assert.True(t, opts.Scan.ExcludeBinary)
}

func TestSearchOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Search.DefaultLimit = 25
	opts := cfg.Search.SearchOptions()
	assert.Equal(t, 25, opts.DefaultLimit)
	assert.Equal(t, cfg.Search.SnippetLength, opts.SnippetLength)
}
