package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/models"
)

const defaultCacheKiB = 2000

// Writer stages document changes in one transaction. Nothing it does is
// visible to readers until Commit succeeds.
type Writer struct {
	conn *sql.Conn
	tx   *sql.Tx
	del  *sql.Stmt
	ins  *sql.Stmt

	done      bool
	committed bool
}

// BeginWrite opens a write transaction. memoryBudget (bytes) sizes the page
// cache of the writer's connection; zero keeps the default.
func (db *DB) BeginWrite(ctx context.Context, memoryBudget int64) (*Writer, error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: acquire conn: %w", errors.Join(apperr.ErrIO, err))
	}
	if kib := memoryBudget / 1024; kib > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`PRAGMA cache_size = -%d`, kib)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("index: set cache size: %w", errors.Join(apperr.ErrIO, err))
		}
	}

	// The transaction outlives the caller's context; it ends only through
	// Commit or Rollback.
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		resetCache(conn)
		conn.Close()
		return nil, fmt.Errorf("index: begin tx: %w", errors.Join(apperr.ErrIO, err))
	}
	w := &Writer{conn: conn, tx: tx}
	if w.del, err = tx.Prepare(`DELETE FROM documents WHERE path = ?`); err != nil {
		w.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("index: prepare delete: %w", errors.Join(apperr.ErrIO, err))
	}
	if w.ins, err = tx.Prepare(`
		INSERT INTO documents (path, extension, size, modified_at, content)
		VALUES (?, ?, ?, ?, ?)
	`); err != nil {
		w.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("index: prepare insert: %w", errors.Join(apperr.ErrIO, err))
	}
	return w, nil
}

// Delete removes the document at path, if any.
func (w *Writer) Delete(ctx context.Context, path string) error {
	if _, err := w.del.ExecContext(ctx, path); err != nil {
		return fmt.Errorf("index: delete %s: %w", path, errors.Join(apperr.ErrIO, err))
	}
	return nil
}

// Put replaces the document at doc.Path: the old one is deleted first.
func (w *Writer) Put(ctx context.Context, doc models.Document) error {
	if err := w.Delete(ctx, doc.Path); err != nil {
		return err
	}
	_, err := w.ins.ExecContext(ctx, doc.Path, doc.Extension, int64(doc.Size), doc.ModifiedAt.Unix(), doc.Content)
	if err != nil {
		return fmt.Errorf("index: insert %s: %w", doc.Path, errors.Join(apperr.ErrIO, err))
	}
	return nil
}

// DeleteAll removes every document.
func (w *Writer) DeleteAll(ctx context.Context) error {
	if _, err := w.tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("index: delete all: %w", errors.Join(apperr.ErrIO, err))
	}
	return nil
}

// Commit records the commit time and makes every staged change visible at once.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("index: writer already finished: %w", apperr.ErrCommit)
	}
	_, err := w.tx.Exec(`
		INSERT INTO index_state (key, value) VALUES ('last_commit_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		w.finish(false)
		return fmt.Errorf("index: record commit: %w", errors.Join(apperr.ErrCommit, err))
	}
	if err := w.finish(true); err != nil {
		return fmt.Errorf("index: commit: %w", errors.Join(apperr.ErrCommit, err))
	}
	return nil
}

// Rollback discards every staged change. It is a no-op after Commit.
func (w *Writer) Rollback() error {
	if w.done {
		return nil
	}
	return w.finish(false)
}

// Committed reports whether the writer finished with a successful commit.
func (w *Writer) Committed() bool {
	return w.committed
}

func (w *Writer) finish(commit bool) error {
	if w.del != nil {
		w.del.Close()
	}
	if w.ins != nil {
		w.ins.Close()
	}
	var err error
	if commit {
		err = w.tx.Commit()
	} else {
		err = w.tx.Rollback()
	}
	w.done = true
	w.committed = commit && err == nil
	resetCache(w.conn)
	w.conn.Close()
	return err
}

func resetCache(conn *sql.Conn) {
	_, _ = conn.ExecContext(context.Background(), fmt.Sprintf(`PRAGMA cache_size = -%d`, defaultCacheKiB))
}
