// Package searcher answers ranked queries against the catalog's readers.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/catalog"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/query"
)

const (
	DefaultLimit         = 10
	DefaultSnippetLength = 200
	// MaxLimit caps how many hits one search can return.
	MaxLimit = 1000
)

// Options configures a Searcher.
type Options struct {
	DefaultLimit  int
	SnippetLength int
}

// Searcher runs queries through the shared readers of a catalog.
type Searcher struct {
	cat    *catalog.Catalog
	opts   Options
	logger *slog.Logger
}

// New creates a searcher. Zero options take the package defaults.
func New(cat *catalog.Catalog, opts Options, logger *slog.Logger) *Searcher {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = DefaultSnippetLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{cat: cat, opts: opts, logger: logger}
}

// Search returns up to limit hits for text in the named index, best first.
// limit <= 0 uses the default. The reader is not reloaded, so results
// reflect the last commit the catalog has reloaded to.
func (s *Searcher) Search(ctx context.Context, name, text string, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > MaxLimit {
		return nil, fmt.Errorf("searcher: limit %d exceeds %d: %w", limit, MaxLimit, apperr.ErrInvalidArgument)
	}
	q, err := query.Parse(text)
	if err != nil {
		return nil, err
	}

	r, err := s.cat.Reader(name)
	if err != nil {
		return nil, err
	}
	rows, err := r.Search(ctx, q.Match, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]models.Hit, len(rows))
	for i, row := range rows {
		hits[i] = models.Hit{
			Path:      row.Path,
			Score:     row.Score,
			Extension: row.Extension,
			Snippet:   Snippet(row.Content, q.Terms, s.opts.SnippetLength),
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})

	s.logger.Debug("searcher: query served",
		slog.String("index", name),
		slog.String("match", q.Match),
		slog.Int("hits", len(hits)))
	return hits, nil
}
