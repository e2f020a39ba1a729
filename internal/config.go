package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/beetle/internal/scanner"
	"github.com/starford/beetle/internal/searcher"
	"github.com/starford/beetle/internal/updater"
	"github.com/starford/beetle/internal/watcher"
)

// Environment variables consulted when no explicit value is given.
const (
	EnvConfig = "BEETLE_CONFIG"
	EnvHome   = "BEETLE_HOME"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app" toml:"app"`
	Storage  StorageConfig     `yaml:"storage" toml:"storage"`
	Indexing IndexingConfig    `yaml:"indexing" toml:"indexing"`
	Search   SearchConfig      `yaml:"search" toml:"search"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Indexing.Validate(); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig holds the directory that contains every index.
type StorageConfig struct {
	Root string `yaml:"root" toml:"root"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// IndexingConfig controls scanning and update passes.
type IndexingConfig struct {
	MemoryBudgetMB int           `yaml:"memory_budget_mb" toml:"memory_budget_mb"`
	RespectIgnore  bool          `yaml:"respect_ignore" toml:"respect_ignore"`
	IncludeHidden  bool          `yaml:"include_hidden" toml:"include_hidden"`
	MaxFileSize    int64         `yaml:"max_file_size" toml:"max_file_size"`
	ExcludeBinary  bool          `yaml:"exclude_binary" toml:"exclude_binary"`
	Workers        int           `yaml:"workers" toml:"workers"`
	Watch          bool          `yaml:"watch" toml:"watch"`
	WatchDebounce  time.Duration `yaml:"watch_debounce" toml:"watch_debounce"`
}

// Validate validates the indexing configuration.
func (c *IndexingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MemoryBudgetMB, validation.Min(0), validation.Max(16384)),
		validation.Field(&c.MaxFileSize, validation.Min(int64(0))),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(256)),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
	)
}

// UpdateOptions converts the section into updater defaults.
func (c *IndexingConfig) UpdateOptions(logger *slog.Logger) updater.Options {
	return updater.Options{
		Scan: scanner.Options{
			RespectIgnore: c.RespectIgnore,
			IncludeHidden: c.IncludeHidden,
			MaxFileSize:   c.MaxFileSize,
			ExcludeBinary: c.ExcludeBinary,
			Logger:        logger,
		},
		MemoryBudget: int64(c.MemoryBudgetMB) << 20,
		Workers:      c.Workers,
	}
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit  int `yaml:"default_limit" toml:"default_limit"`
	SnippetLength int `yaml:"snippet_length" toml:"snippet_length"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1), validation.Max(searcher.MaxLimit)),
		validation.Field(&c.SnippetLength, validation.Required, validation.Min(20)),
	)
}

// SearchOptions converts the section into searcher options.
func (c *SearchConfig) SearchOptions() searcher.Options {
	return searcher.Options{
		DefaultLimit:  c.DefaultLimit,
		SnippetLength: c.SnippetLength,
	}
}

// DefaultRoot returns $BEETLE_HOME/indexes, or ~/.beetle/indexes when
// BEETLE_HOME is unset.
func DefaultRoot() string {
	if home := os.Getenv(EnvHome); home != "" {
		return filepath.Join(home, "indexes")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".beetle", "indexes")
	}
	return filepath.Join(".beetle", "indexes")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Root: DefaultRoot(),
		},
		Indexing: IndexingConfig{
			MemoryBudgetMB: 64,
			RespectIgnore:  true,
			MaxFileSize:    1 << 20,
			ExcludeBinary:  true,
			WatchDebounce:  watcher.DefaultDebounce,
		},
		Search: SearchConfig{
			DefaultLimit:  searcher.DefaultLimit,
			SnippetLength: searcher.DefaultSnippetLength,
		},
	}
}
