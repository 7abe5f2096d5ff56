// internal/common/database/postgres.go
// PostgreSQL connection and configuration

package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PoolConfig holds connection pool settings
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultPoolConfig is used when the caller has no opinion
var DefaultPoolConfig = PoolConfig{
	MaxOpenConns: 25,
	MaxIdleConns: 5,
	MaxLifetime:  5 * time.Minute,
}

// Open connects to the database selected by driver
func Open(driver, url string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres, "postgresql":
		return NewPostgresDBFromURL(url)
	case DriverSQLite:
		return NewSQLiteDB(url)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// NewPostgresDBFromURL creates a connection from a URL
func NewPostgresDBFromURL(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverPostgres, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(DefaultPoolConfig.MaxOpenConns)
	db.SetMaxIdleConns(DefaultPoolConfig.MaxIdleConns)
	db.SetConnMaxLifetime(DefaultPoolConfig.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
