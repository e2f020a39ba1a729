// Package index provides the embedded full-text engine: a SQLite database
// with an FTS5 table over document path and content, one transactional
// writer, and snapshot-pinned readers.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/beetle/internal/apperr"
)

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY,
	path        TEXT    NOT NULL UNIQUE,
	extension   TEXT    NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL DEFAULT 0,
	content     TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS index_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	path,
	content,
	content = 'documents',
	content_rowid = 'id',
	tokenize = 'unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts (rowid, path, content) VALUES (new.id, new.path, new.content);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	INSERT INTO documents_fts (documents_fts, rowid, path, content) VALUES ('delete', old.id, old.path, old.content);
END;
`

// DB wraps a sql.DB holding one index.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the index database at path and applies the schema.
// A database written by a different schema version yields apperr.ErrSchemaMismatch.
func Open(path string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", errors.Join(apperr.ErrIO, err))
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", errors.Join(apperr.ErrIO, err))
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn, path: path}, nil
}

func migrate(conn *sql.DB) error {
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin migration: %w", errors.Join(apperr.ErrIO, err))
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var version int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("index: read schema version: %w", errors.Join(apperr.ErrIO, err))
	}
	switch version {
	case SchemaVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("index: schema version %d, want %d: %w", version, SchemaVersion, apperr.ErrSchemaMismatch)
	}

	if _, err := tx.ExecContext(ctx, coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply schema: %w", errors.Join(apperr.ErrIO, err))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return fmt.Errorf("index: set schema version: %w", errors.Join(apperr.ErrIO, err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit schema: %w", errors.Join(apperr.ErrIO, err))
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
