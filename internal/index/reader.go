package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starford/beetle/internal/apperr"
)

// Row is one raw match returned by Reader.Search.
type Row struct {
	Path      string
	Extension string
	Content   string
	Score     float64
}

// Reader serves queries from a read transaction pinned to the last commit
// visible when it was opened or refreshed. Commits made afterwards stay
// invisible until Refresh.
//
// The pinned transaction lives on one connection, so queries on a shared
// Reader run one at a time; mu is held until a query's rows are drained.
// Callers needing parallel queries on one index open more readers.
type Reader struct {
	db *DB

	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
}

// OpenReader opens a reader pinned to the latest committed state.
func (db *DB) OpenReader() (*Reader, error) {
	tx, err := db.pin()
	if err != nil {
		return nil, err
	}
	return &Reader{db: db, tx: tx}, nil
}

func (db *DB) pin() (*sql.Tx, error) {
	// Held until Refresh or Close, independent of any request context.
	tx, err := db.conn.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("index: begin read tx: %w", errors.Join(apperr.ErrIO, err))
	}
	// A deferred transaction takes its snapshot at the first read.
	var n int
	if err := tx.QueryRow(`SELECT count(*) FROM documents`).Scan(&n); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("index: pin snapshot: %w", errors.Join(apperr.ErrIO, err))
	}
	return tx, nil
}

// Refresh re-pins the reader to the latest committed state.
func (r *Reader) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("index: reader closed: %w", apperr.ErrIO)
	}
	tx, err := r.db.pin()
	if err != nil {
		return err
	}
	old := r.tx
	r.tx = tx
	return old.Rollback()
}

// Search runs an FTS5 MATCH expression and returns up to limit rows ordered
// by descending score, ties broken by ascending path. Scores are negated
// bm25 values, so larger is better and every match scores above zero.
func (r *Reader) Search(ctx context.Context, match string, limit int) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("index: reader closed: %w", apperr.ErrIO)
	}

	rows, err := r.tx.QueryContext(ctx, `
		SELECT d.path,
		       d.extension,
		       d.content,
		       -bm25(documents_fts, 2.0, 1.0) AS score
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY score DESC, d.path ASC
		LIMIT ?
	`, match, limit)
	if err != nil {
		if msg := err.Error(); strings.Contains(msg, "fts5:") || strings.Contains(msg, "unterminated string") {
			return nil, fmt.Errorf("index: search %q: %w", match, errors.Join(apperr.ErrInvalidArgument, err))
		}
		return nil, fmt.Errorf("index: search: %w", errors.Join(apperr.ErrIO, err))
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Path, &row.Extension, &row.Content, &row.Score); err != nil {
			return nil, fmt.Errorf("index: scan row: %w", errors.Join(apperr.ErrIO, err))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: search rows: %w", errors.Join(apperr.ErrIO, err))
	}
	return out, nil
}

// DocCount returns the number of documents in the pinned snapshot.
func (r *Reader) DocCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fmt.Errorf("index: reader closed: %w", apperr.ErrIO)
	}
	var n int
	if err := r.tx.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", errors.Join(apperr.ErrIO, err))
	}
	return n, nil
}

// LastCommit returns the time of the commit the snapshot is pinned to.
// ok is false for an index that was never committed.
func (r *Reader) LastCommit(ctx context.Context) (t time.Time, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return time.Time{}, false, fmt.Errorf("index: reader closed: %w", apperr.ErrIO)
	}
	var raw string
	err = r.tx.QueryRowContext(ctx, `SELECT value FROM index_state WHERE key = 'last_commit_at'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("index: last commit: %w", errors.Join(apperr.ErrIO, err))
	}
	t, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("index: parse last commit: %w", errors.Join(apperr.ErrIO, err))
	}
	return t, true, nil
}

// Close releases the pinned snapshot.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.tx.Rollback()
}
