// internal/common/database/sqlite.go
// Embedded SQLite for single-node deployments and tests

package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// sqlitePragmas are appended to every DSN that does not mention them
var sqlitePragmas = []struct {
	key   string
	param string
}{
	{"foreign_keys", "_pragma=foreign_keys(1)"},
	{"busy_timeout", "_pragma=busy_timeout(5000)"},
	{"_time_format", "_time_format=sqlite"},
}

// NewSQLiteDB opens a SQLite database. Writes are serialized through a single
// connection, which also keeps a ":memory:" database alive for its lifetime.
func NewSQLiteDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverSQLite, withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if !strings.Contains(dsn, ":memory:") {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	return db, nil
}

func withPragmas(dsn string) string {
	if dsn == "" {
		dsn = "file::memory:"
	}
	var extra []string
	for _, p := range sqlitePragmas {
		if !strings.Contains(dsn, p.key) {
			extra = append(extra, p.param)
		}
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}
