//go:build !sqlite_fts5

package index

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver, FTS5 included
)

const driverName = "sqlite"

func dsn(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}
