// Package updater brings an index in line with its repository: it scans the
// tree, diffs it against the persisted manifest and applies the delta in a
// single commit.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/catalog"
	"github.com/starford/beetle/internal/differ"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/scanner"
)

// Mode selects how much of the previous state an update trusts.
type Mode int

const (
	// Incremental applies only the difference to the persisted manifest.
	Incremental Mode = iota
	// Full ignores the manifest and rebuilds every document.
	Full
)

func (m Mode) String() string {
	switch m {
	case Incremental:
		return "incremental"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "incremental" (or "") and "full" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "incremental":
		return Incremental, nil
	case "full", "reindex":
		return Full, nil
	}
	return 0, fmt.Errorf("updater: unknown mode %q: %w", s, apperr.ErrInvalidArgument)
}

// Options tunes one update pass.
type Options struct {
	Mode Mode
	// Scan selects the files considered. Its MaxFileSize and ExcludeBinary
	// are re-checked when a file is read.
	Scan scanner.Options
	// MemoryBudget sizes the writer's page cache in bytes. Zero keeps the
	// engine default.
	MemoryBudget int64
	// Workers bounds concurrent file reads. Zero means one per CPU.
	Workers int
}

// Updater runs update passes against indexes of one catalog.
type Updater struct {
	cat    *catalog.Catalog
	logger *slog.Logger
}

// New creates an updater.
func New(cat *catalog.Catalog, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{cat: cat, logger: logger}
}

// Update indexes repoPath into the named index; an empty repoPath uses the
// target recorded at creation. Nothing becomes visible unless the whole pass
// commits. Readers see the commit after the catalog reloads them.
func (u *Updater) Update(ctx context.Context, name, repoPath string, opts Options) (models.Stats, error) {
	start := time.Now()

	w, err := u.cat.Writer(ctx, name, opts.MemoryBudget)
	if err != nil {
		return models.Stats{}, err
	}
	defer func() {
		if err := w.Release(); err != nil {
			u.logger.Warn("updater: release writer", slog.String("index", name), slog.String("error", err.Error()))
		}
	}()

	if repoPath == "" {
		meta, err := u.cat.Metadata(name)
		if err != nil {
			return models.Stats{}, err
		}
		repoPath = meta.TargetPath
	}

	store := u.cat.Store()
	var previous models.Snapshot
	if opts.Mode != Full {
		if previous, err = store.ReadManifest(name); err != nil {
			return models.Stats{}, err
		}
	}

	if opts.Scan.Logger == nil {
		opts.Scan.Logger = u.logger
	}
	current, err := scanner.Scan(repoPath, opts.Scan)
	if err != nil {
		return models.Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Stats{}, fmt.Errorf("updater: %s: %w", name, err)
	}

	delta := differ.Diff(current, previous)
	stats := models.Stats{
		Added:    len(delta.Added),
		Modified: len(delta.Modified),
		Removed:  len(delta.Removed),
	}

	if opts.Mode == Full {
		if err := w.DeleteAll(ctx); err != nil {
			return models.Stats{}, err
		}
	} else {
		// Modified paths go too, so a file that fails to read below does
		// not leave its stale document behind.
		for _, set := range [][]models.FileMetadata{delta.Removed, delta.Modified} {
			for _, f := range set {
				if err := w.Delete(ctx, f.Path); err != nil {
					return models.Stats{}, err
				}
			}
		}
	}

	work := make([]models.FileMetadata, 0, len(delta.Added)+len(delta.Modified))
	work = append(work, delta.Added...)
	work = append(work, delta.Modified...)

	skipped, err := u.apply(ctx, w, repoPath, work, opts, &stats)
	if err != nil {
		return models.Stats{}, err
	}

	if err := w.Commit(); err != nil {
		return models.Stats{}, err
	}

	// A failure here leaves the old manifest in place; the next pass then
	// re-applies changes that are already committed, which is harmless.
	if err := store.WriteManifest(name, current.Without(skipped)); err != nil {
		return models.Stats{}, fmt.Errorf("updater: %s committed but manifest not saved: %w", name, err)
	}

	stats.Skipped = len(skipped)
	stats.Duration = time.Since(start)
	u.logger.Info("updater: update finished",
		slog.String("index", name),
		slog.String("mode", opts.Mode.String()),
		slog.Int("added", stats.Added),
		slog.Int("modified", stats.Modified),
		slog.Int("removed", stats.Removed),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.Uint64("bytes", stats.TotalBytes),
		slog.Duration("elapsed", stats.Duration))
	return stats, nil
}

// apply reads work with a bounded pool and feeds the documents to w from a
// single goroutine. It returns the paths that were skipped.
func (u *Updater) apply(ctx context.Context, w *catalog.Writer, root string, work []models.FileMetadata, opts Options, stats *models.Stats) (map[string]struct{}, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		mu      sync.Mutex
		skipped = make(map[string]struct{})
	)
	skip := func(p string) {
		mu.Lock()
		skipped[p] = struct{}{}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	docs := make(chan models.Document, workers)

	g.Go(func() error {
		defer close(docs)
		pool, pctx := errgroup.WithContext(gctx)
		pool.SetLimit(workers)
		for _, f := range work {
			if pctx.Err() != nil {
				break
			}
			pool.Go(func() error {
				doc, err := readDocument(root, f, opts.Scan)
				if err != nil {
					u.logger.Warn("updater: skipping file",
						slog.String("path", f.Path),
						slog.String("error", err.Error()))
					skip(f.Path)
					return nil
				}
				select {
				case docs <- doc:
					return nil
				case <-pctx.Done():
					return pctx.Err()
				}
			})
		}
		return pool.Wait()
	})

	g.Go(func() error {
		for doc := range docs {
			if err := w.Put(gctx, doc); err != nil {
				return err
			}
			stats.Indexed++
			stats.TotalBytes += doc.Size
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return skipped, nil
}

var (
	errTooLarge = errors.New("file exceeds size cap")
	errBinary   = errors.New("binary content")
)

// readDocument loads one file as a document. The size and binary checks are
// repeated because the file may have changed since the scan.
func readDocument(root string, f models.FileMetadata, opts scanner.Options) (models.Document, error) {
	file, err := os.Open(filepath.Join(root, filepath.FromSlash(f.Path)))
	if err != nil {
		return models.Document{}, err
	}
	defer file.Close()

	var r io.Reader = file
	if opts.MaxFileSize > 0 {
		r = io.LimitReader(file, opts.MaxFileSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Document{}, err
	}
	if opts.MaxFileSize > 0 && int64(len(data)) > opts.MaxFileSize {
		return models.Document{}, errTooLarge
	}
	if opts.ExcludeBinary && scanner.IsBinary(data) {
		return models.Document{}, errBinary
	}

	return models.Document{
		Path:       f.Path,
		Content:    strings.ToValidUTF8(string(data), "�"),
		Extension:  scanner.Extension(f.Path),
		Size:       uint64(len(data)),
		ModifiedAt: time.Unix(int64(f.ModifiedTime), 0),
	}, nil
}
