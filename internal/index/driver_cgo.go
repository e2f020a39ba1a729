//go:build sqlite_fts5

package index

import (
	_ "github.com/mattn/go-sqlite3"
)

// Built with -tags sqlite_fts5, the cgo driver is used and compiled with FTS5.
const driverName = "sqlite3"

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
}
