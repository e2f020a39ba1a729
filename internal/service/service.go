// Package service is the single entry point used by the CLI, the HTTP API,
// the MCP server and the watcher. It coordinates the catalog, the updater
// and the searcher and announces index changes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/catalog"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/searcher"
	"github.com/starford/beetle/internal/updater"
)

// Publisher receives index lifecycle notifications.
type Publisher interface {
	PublishIndexEvent(kind, name string, detail any)
}

// Event kinds passed to Publisher.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventRemoved = "removed"
)

// IndexInfo describes an index together with its committed state.
type IndexInfo struct {
	models.IndexMetadata
	Documents   int        `json:"documents"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// Service coordinates catalog, updater and searcher.
type Service struct {
	cat      *catalog.Catalog
	up       *updater.Updater
	search   *searcher.Searcher
	defaults updater.Options
	pub      Publisher
	logger   *slog.Logger
}

// New creates a service. defaults supplies the scan, memory and worker
// settings of every update; its Mode is ignored. pub may be nil.
func New(cat *catalog.Catalog, search *searcher.Searcher, defaults updater.Options, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cat:      cat,
		up:       updater.New(cat, logger),
		search:   search,
		defaults: defaults,
		pub:      pub,
		logger:   logger,
	}
}

func (s *Service) publish(kind, name string, detail any) {
	if s.pub != nil {
		s.pub.PublishIndexEvent(kind, name, detail)
	}
}

// Create registers target under name and runs the first update. If that
// update fails the index is removed again.
func (s *Service) Create(ctx context.Context, name, target string) (IndexInfo, models.Stats, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return IndexInfo{}, models.Stats{}, fmt.Errorf("service: resolve %s: %w", target, errors.Join(apperr.ErrInvalidArgument, err))
	}
	if _, err := s.cat.Create(name, abs); err != nil {
		return IndexInfo{}, models.Stats{}, err
	}

	stats, err := s.Update(ctx, name, updater.Full)
	if err != nil {
		if rmErr := s.cat.Remove(name); rmErr != nil {
			s.logger.Warn("service: remove after failed first update",
				slog.String("index", name),
				slog.String("error", rmErr.Error()))
		}
		return IndexInfo{}, models.Stats{}, err
	}

	info, err := s.Get(ctx, name)
	if err != nil {
		return IndexInfo{}, models.Stats{}, err
	}
	s.publish(EventCreated, name, info)
	return info, stats, nil
}

// Update runs an update pass and moves the shared reader to the new commit.
func (s *Service) Update(ctx context.Context, name string, mode updater.Mode) (models.Stats, error) {
	opts := s.defaults
	opts.Mode = mode
	stats, err := s.up.Update(ctx, name, "", opts)
	if err != nil {
		return models.Stats{}, err
	}
	if err := s.cat.Reload(name); err != nil {
		return stats, err
	}
	s.publish(EventUpdated, name, stats)
	return stats, nil
}

// Search queries the named index.
func (s *Service) Search(ctx context.Context, name, query string, limit int) ([]models.Hit, error) {
	return s.search.Search(ctx, name, query, limit)
}

// Get returns the metadata and committed state of one index.
func (s *Service) Get(ctx context.Context, name string) (IndexInfo, error) {
	meta, err := s.cat.Metadata(name)
	if err != nil {
		return IndexInfo{}, err
	}
	r, err := s.cat.Reader(name)
	if err != nil {
		return IndexInfo{}, err
	}
	n, err := r.DocCount(ctx)
	if err != nil {
		return IndexInfo{}, err
	}
	info := IndexInfo{IndexMetadata: meta, Documents: n}
	if t, ok, err := r.LastCommit(ctx); err != nil {
		return IndexInfo{}, err
	} else if ok {
		info.LastUpdated = &t
	}
	return info, nil
}

// List returns every index sorted by name. Indexes that cannot be opened
// are listed with metadata only.
func (s *Service) List(ctx context.Context) ([]IndexInfo, error) {
	metas, err := s.cat.List()
	if err != nil {
		return nil, err
	}
	out := make([]IndexInfo, 0, len(metas))
	for _, m := range metas {
		info, err := s.Get(ctx, m.Name)
		if err != nil {
			s.logger.Warn("service: index unavailable",
				slog.String("index", m.Name),
				slog.String("error", err.Error()))
			info = IndexInfo{IndexMetadata: m}
		}
		out = append(out, info)
	}
	return out, nil
}

// Remove deletes the named index.
func (s *Service) Remove(_ context.Context, name string) error {
	if err := s.cat.Remove(name); err != nil {
		return err
	}
	s.publish(EventRemoved, name, nil)
	return nil
}

// Targets maps every index name to its repository path. Indexes whose
// target no longer exists are left out.
func (s *Service) Targets() (map[string]string, error) {
	metas, err := s.cat.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(metas))
	for _, m := range metas {
		if fi, err := os.Stat(m.TargetPath); err != nil || !fi.IsDir() {
			continue
		}
		out[m.Name] = m.TargetPath
	}
	return out, nil
}
