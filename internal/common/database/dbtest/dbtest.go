// Package dbtest opens migrated in-memory databases for package tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/database"
)

// New returns a fresh, migrated in-memory SQLite database closed at test end
func New(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := database.NewSQLiteDB("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

// SeedUser inserts a user and returns its id
func SeedUser(t testing.TB, db *sqlx.DB, username string) int64 {
	t.Helper()

	var id int64
	err := db.QueryRowx(
		db.Rebind(`INSERT INTO users (username, display_name, email, phone) VALUES (?, ?, ?, ?) RETURNING id`),
		username, username, fmt.Sprintf("%s@example.com", username), "+15550000000",
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedConversation creates a direct conversation between the given users
func SeedConversation(t testing.TB, db *sqlx.DB, userIDs ...int64) int64 {
	t.Helper()

	var id int64
	err := db.QueryRowx(
		db.Rebind(`INSERT INTO conversations (type, created_at) VALUES (?, ?) RETURNING id`),
		"direct", time.Now().UTC(),
	).Scan(&id)
	require.NoError(t, err)

	for _, uid := range userIDs {
		_, err := db.Exec(
			db.Rebind(`INSERT INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`),
			id, uid, time.Now().UTC(),
		)
		require.NoError(t, err)
	}
	return id
}
