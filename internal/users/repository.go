// internal/users/repository.go

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
)

var ErrUserNotFound = apperr.NotFound("user not found")

type Repository interface {
	GetProfile(ctx context.Context, userID int64) (*Profile, error)
	GetContact(ctx context.Context, userID int64) (*Contact, error)
	GetPresence(ctx context.Context, userID int64) (*Presence, error)
	SetStatus(ctx context.Context, userID int64, status string, lastSeen time.Time) error
}

type sqlRepository struct {
	db *sqlx.DB
}

// NewRepository works against both postgres and sqlite handles
func NewRepository(db *sqlx.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	var p Profile
	err := r.db.GetContext(ctx, &p,
		r.db.Rebind(`SELECT id, username, display_name, avatar_url FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (r *sqlRepository) GetContact(ctx context.Context, userID int64) (*Contact, error) {
	var c Contact
	err := r.db.GetContext(ctx, &c,
		r.db.Rebind(`SELECT id, email, phone FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func (r *sqlRepository) GetPresence(ctx context.Context, userID int64) (*Presence, error) {
	var p Presence
	err := r.db.GetContext(ctx, &p,
		r.db.Rebind(`SELECT id, status, last_seen FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get presence: %w", err)
	}
	return &p, nil
}

func (r *sqlRepository) SetStatus(ctx context.Context, userID int64, status string, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET status = ?, last_seen = ? WHERE id = ?`),
		status, lastSeen, userID)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
