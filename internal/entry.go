// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/beetle/internal/api"
	"github.com/starford/beetle/internal/catalog"
	"github.com/starford/beetle/internal/mcpserver"
	"github.com/starford/beetle/internal/searcher"
	"github.com/starford/beetle/internal/service"
	"github.com/starford/beetle/internal/sse"
	"github.com/starford/beetle/internal/storage"
	"github.com/starford/beetle/internal/watcher"
)

// App holds the wired components shared by every entry point.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Catalog *catalog.Catalog
	Service *service.Service
}

// Close releases every open index.
func (a *App) Close() error {
	return a.Catalog.Close()
}

// NewApp wires storage, catalog, searcher and service from the configured
// options. pub may be nil.
func NewApp(pub service.Publisher, opts ...Option) (*App, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return newApp(app, pub)
}

func newApp(app *application, pub service.Publisher) (*App, error) {
	cfg := app.config

	logger := newLogger(app.logOutput, cfg.App.LogLevel)
	slog.SetDefault(logger)

	store, err := storage.NewFS(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cat := catalog.New(store, logger)
	search := searcher.New(cat, cfg.Search.SearchOptions(), logger)
	svc := service.New(cat, search, cfg.Indexing.UpdateOptions(logger), pub, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Catalog: cat,
		Service: svc,
	}, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Run starts the HTTP server, and the watcher when enabled, until ctx is
// cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	a, err := newApp(app, broker)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.Logger
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_root", cfg.Storage.Root),
		slog.Bool("watch", cfg.Indexing.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := a.Catalog.List(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(a.Service, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Indexing.Watch {
		targets, err := a.Service.Targets()
		if err != nil {
			return fmt.Errorf("list watch targets: %w", err)
		}
		storeRoot, err := filepath.Abs(cfg.Storage.Root)
		if err != nil {
			return fmt.Errorf("resolve storage root: %w", err)
		}
		g.Go(func() error {
			return watcher.Watch(gCtx, a.Service, targets, watcher.Options{
				Debounce: cfg.Indexing.WatchDebounce,
				Exclude:  []string{storeRoot},
				Logger:   logger,
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP protocol on stdin/stdout until the client
// disconnects or ctx is cancelled. Logs go to stderr unless WithLogOutput
// says otherwise.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stderr, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	a, err := newApp(app, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Logger.Info("MCP server starting", slog.String("storage_root", a.Config.Storage.Root))
	return mcpserver.New(a.Service, app.version).ServeStdioContext(ctx, os.Stdin, os.Stdout)
}
