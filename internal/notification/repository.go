// internal/notification/repository.go

package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
)

var ErrTokenNotFound = apperr.NotFound("push token not found")

type TokenRepository interface {
	SaveToken(ctx context.Context, userID int64, token, platform string) (*PushToken, error)
	Tokens(ctx context.Context, userID int64) ([]*PushToken, error)
	DeleteToken(ctx context.Context, userID int64, token string) error
}

type sqlTokenRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &sqlTokenRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SaveToken moves a token to the latest user that registers it
func (r *sqlTokenRepository) SaveToken(ctx context.Context, userID int64, token, platform string) (*PushToken, error) {
	if platform == "" {
		platform = PlatformAndroid
	}
	t := &PushToken{Token: token, UserID: userID, Platform: platform, CreatedAt: r.now()}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO push_tokens (token, user_id, platform, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE
		SET user_id = excluded.user_id, platform = excluded.platform, created_at = excluded.created_at`),
		t.Token, t.UserID, t.Platform, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save push token: %w", err)
	}
	return t, nil
}

func (r *sqlTokenRepository) Tokens(ctx context.Context, userID int64) ([]*PushToken, error) {
	tokens := []*PushToken{}
	err := r.db.SelectContext(ctx, &tokens, r.db.Rebind(`
		SELECT token, user_id, platform, created_at FROM push_tokens
		WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return tokens, nil
}

func (r *sqlTokenRepository) DeleteToken(ctx context.Context, userID int64, token string) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM push_tokens WHERE token = ? AND user_id = ?`), token, userID)
	if err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	return nil
}
