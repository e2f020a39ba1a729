// Package watcher keeps indexes current by running incremental updates when
// files under their repositories change.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/updater"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Updater runs an update pass on a named index.
type Updater interface {
	Update(ctx context.Context, name string, mode updater.Mode) (models.Stats, error)
}

// Options configures Watch.
type Options struct {
	// Debounce is how long a tree must stay quiet before its index updates.
	Debounce time.Duration
	// Exclude lists absolute directories never watched, such as the index
	// storage root when it lives inside a repository.
	Exclude []string
	Logger  *slog.Logger
}

type result struct {
	name string
	err  error
}

// Watch watches every target (index name to repository path) until ctx is
// cancelled. A burst of changes under one target triggers one incremental
// update once the tree has been quiet for the debounce period. An update
// that finds the writer busy is retried after another period; changes that
// arrive while an update runs trigger one more update after it finishes.
func Watch(ctx context.Context, up Updater, targets map[string]string, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	roots := make(map[string]string, len(targets))
	for name, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return err
		}
		roots[name] = abs
		if err := addDirsRecursive(w, abs, opts.Exclude); err != nil {
			return err
		}
		logger.Info("watcher: started", slog.String("index", name), slog.String("root", abs))
	}

	var (
		fire    = make(chan string)
		done    = make(chan result)
		timers  = make(map[string]*time.Timer)
		running = make(map[string]bool)
		dirty   = make(map[string]bool)
		wg      sync.WaitGroup
	)

	schedule := func(name string) {
		if t, ok := timers[name]; ok {
			t.Reset(debounce)
			return
		}
		timers[name] = time.AfterFunc(debounce, func() {
			select {
			case fire <- name:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			for _, t := range timers {
				t.Stop()
			}
			// Drain in-flight updates; they observe the cancelled context.
			go func() {
				for range done {
				}
			}()
			wg.Wait()
			close(done)
			logger.Info("watcher: stopped")
			return nil

		case name := <-fire:
			delete(timers, name)
			if running[name] {
				dirty[name] = true
				continue
			}
			running[name] = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := up.Update(ctx, name, updater.Incremental)
				done <- result{name: name, err: err}
			}()

		case r := <-done:
			running[r.name] = false
			switch {
			case r.err == nil:
				logger.Debug("watcher: index updated", slog.String("index", r.name))
			case errors.Is(r.err, apperr.ErrLockBusy):
				logger.Debug("watcher: writer busy, retrying", slog.String("index", r.name))
				dirty[r.name] = true
			case ctx.Err() != nil:
			default:
				logger.Warn("watcher: update failed",
					slog.String("index", r.name),
					slog.String("error", r.err.Error()))
			}
			if dirty[r.name] {
				dirty[r.name] = false
				schedule(r.name)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if skipped(ev.Name, opts.Exclude) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name, opts.Exclude); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			for name, root := range roots {
				if within(ev.Name, root) {
					schedule(name)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func within(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// skipped reports whether p is inside a .git directory or an excluded root.
func skipped(p string, exclude []string) bool {
	for _, ex := range exclude {
		if within(p, ex) {
			return true
		}
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its subdirectories to the watcher,
// leaving out .git and excluded trees.
func addDirsRecursive(w *fsnotify.Watcher, root string, exclude []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipped(path, exclude) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
