// Package catalog is the registry of open indexes. It hands out one cached
// reader per index and at most one writer per index at a time.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/index"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/storage"
)

type entry struct {
	meta models.IndexMetadata

	// writing is set while a writer is checked out, and permanently once
	// the entry is removed.
	writing atomic.Bool

	mu      sync.Mutex // guards the fields below
	db      *index.DB
	reader  *index.Reader
	removed bool
}

// engine opens the index database on first use. e.mu must be held.
func (e *entry) engine(path string) (*index.DB, error) {
	if e.removed {
		return nil, fmt.Errorf("catalog: %s: %w", e.meta.Name, apperr.ErrNotFound)
	}
	if e.db == nil {
		db, err := index.Open(path)
		if err != nil {
			return nil, err
		}
		e.db = db
	}
	return e.db, nil
}

// close releases the cached handles. e.mu must be held.
func (e *entry) close() error {
	var errs []error
	if e.reader != nil {
		errs = append(errs, e.reader.Close())
		e.reader = nil
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
		e.db = nil
	}
	return errors.Join(errs...)
}

// Catalog maps index names to their storage and open engine handles.
// Lookups of different names never block each other.
type Catalog struct {
	store  storage.Provider
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a catalog over store.
func New(store storage.Provider, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:   store,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Store returns the underlying storage provider.
func (c *Catalog) Store() storage.Provider { return c.store }

// List returns every index on disk sorted by name.
func (c *Catalog) List() ([]models.IndexMetadata, error) {
	return c.store.List()
}

// Create lays out a new index for target and initializes its engine.
func (c *Catalog) Create(name, target string) (models.IndexMetadata, error) {
	meta, err := c.store.Create(name, target)
	if err != nil {
		return models.IndexMetadata{}, err
	}
	db, err := index.Open(c.store.EnginePath(name))
	if err != nil {
		if rmErr := c.store.Remove(name); rmErr != nil {
			c.logger.Warn("catalog: cleanup after failed create",
				slog.String("index", name),
				slog.String("error", rmErr.Error()))
		}
		return models.IndexMetadata{}, err
	}

	e := &entry{meta: meta, db: db}
	c.mu.Lock()
	if old, ok := c.entries[name]; ok {
		old.mu.Lock()
		_ = old.close()
		old.removed = true
		old.mu.Unlock()
	}
	c.entries[name] = e
	c.mu.Unlock()

	c.logger.Info("catalog: index created",
		slog.String("index", name),
		slog.String("target", meta.TargetPath))
	return meta, nil
}

func (c *Catalog) lookup(name string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	meta, err := c.store.Metadata(name)
	if err != nil {
		return nil, err
	}
	if meta.SchemaVersion != storage.SchemaVersion {
		return nil, fmt.Errorf("catalog: %s has schema version %d, want %d: %w",
			name, meta.SchemaVersion, storage.SchemaVersion, apperr.ErrSchemaMismatch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok {
		return e, nil
	}
	e = &entry{meta: meta}
	c.entries[name] = e
	return e, nil
}

// Metadata returns the creation metadata of the named index.
func (c *Catalog) Metadata(name string) (models.IndexMetadata, error) {
	e, err := c.lookup(name)
	if err != nil {
		return models.IndexMetadata{}, err
	}
	return e.meta, nil
}

// Reader returns the shared reader of the named index, opening it on first
// use. The same handle is returned until the index is removed; Reload moves
// it to the latest commit.
func (c *Catalog) Reader(name string) (*index.Reader, error) {
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reader != nil {
		return e.reader, nil
	}
	db, err := e.engine(c.store.EnginePath(name))
	if err != nil {
		return nil, err
	}
	r, err := db.OpenReader()
	if err != nil {
		return nil, err
	}
	e.reader = r
	return r, nil
}

// Reload re-pins the cached reader of the named index to the latest commit.
// It is a no-op when no reader has been opened yet.
func (c *Catalog) Reload(name string) error {
	e, err := c.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reader == nil {
		return nil
	}
	return e.reader.Refresh()
}

// Writer is an exclusive write handle on one index.
type Writer struct {
	*index.Writer

	once    sync.Once
	release func()
}

// Release rolls back anything not committed and gives the writer back.
// It is safe to call more than once.
func (w *Writer) Release() error {
	var err error
	w.once.Do(func() {
		err = w.Writer.Rollback()
		w.release()
	})
	return err
}

// Writer checks out the single writer of the named index. It fails fast with
// apperr.ErrLockBusy if a writer is already checked out in this process or in
// another process sharing the storage root.
func (c *Catalog) Writer(ctx context.Context, name string, memoryBudget int64) (*Writer, error) {
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if !e.writing.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("catalog: %s: %w", name, apperr.ErrLockBusy)
	}
	lock, err := c.tryLock(name)
	if err != nil {
		e.writing.Store(false)
		return nil, err
	}
	release := func() {
		if err := lock.Unlock(); err != nil {
			c.logger.Warn("catalog: unlock writer", slog.String("index", name), slog.String("error", err.Error()))
		}
		e.writing.Store(false)
	}

	e.mu.Lock()
	db, err := e.engine(c.store.EnginePath(name))
	e.mu.Unlock()
	if err != nil {
		release()
		return nil, err
	}
	iw, err := db.BeginWrite(ctx, memoryBudget)
	if err != nil {
		release()
		return nil, err
	}
	return &Writer{Writer: iw, release: release}, nil
}

func (c *Catalog) tryLock(name string) (*flock.Flock, error) {
	lock := flock.New(c.store.LockPath(name))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("catalog: lock %s: %w", name, errors.Join(apperr.ErrIO, err))
	}
	if !locked {
		return nil, fmt.Errorf("catalog: %s locked by another process: %w", name, apperr.ErrLockBusy)
	}
	return lock, nil
}

// Remove deletes the named index and evicts its cached handles. It fails
// with apperr.ErrLockBusy while a writer is checked out.
func (c *Catalog) Remove(name string) error {
	e, err := c.lookup(name)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrSchemaMismatch) {
		// Nothing is cached for these; a directory left by an interrupted
		// create has no metadata at all.
		return c.store.Remove(name)
	}
	if err != nil {
		return err
	}
	if !e.writing.CompareAndSwap(false, true) {
		return fmt.Errorf("catalog: remove %s: %w", name, apperr.ErrLockBusy)
	}
	lock, err := c.tryLock(name)
	if err != nil {
		e.writing.Store(false)
		return err
	}
	defer lock.Unlock() //nolint:errcheck

	e.mu.Lock()
	e.removed = true
	if err := e.close(); err != nil {
		c.logger.Warn("catalog: close removed index", slog.String("index", name), slog.String("error", err.Error()))
	}
	e.mu.Unlock()

	c.mu.Lock()
	if c.entries[name] == e {
		delete(c.entries, name)
	}
	c.mu.Unlock()

	if err := c.store.Remove(name); err != nil {
		return err
	}
	c.logger.Info("catalog: index removed", slog.String("index", name))
	return nil
}

// Close releases every cached reader and engine handle.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, e := range c.entries {
		e.mu.Lock()
		errs = append(errs, e.close())
		e.mu.Unlock()
		delete(c.entries, name)
	}
	return errors.Join(errs...)
}
