// internal/calls/postgres.go

package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/database"
)

const callColumns = `id, conversation_id, caller_id, receiver_id, call_type, status,
	started_at, ended_at, duration, created_at, updated_at`

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, call *Call) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists,
		tx.Rebind(`SELECT COUNT(*) FROM conversations WHERE id = ?`), call.ConversationID); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return ErrConversationNotFound
	}

	var members []int64
	if err := tx.SelectContext(ctx, &members, tx.Rebind(`
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ? AND user_id IN (?, ?)`),
		call.ConversationID, call.CallerID, call.ReceiverID); err != nil {
		return fmt.Errorf("check participants: %w", err)
	}
	if !containsID(members, call.CallerID) {
		return ErrCallerNotParticipant
	}
	if !containsID(members, call.ReceiverID) {
		return ErrReceiverNotParticipant
	}

	var live int
	if err := tx.GetContext(ctx, &live, tx.Rebind(`
		SELECT COUNT(*) FROM calls
		WHERE conversation_id = ? AND status IN (?, ?, ?)`),
		call.ConversationID, StatusInitiating, StatusRinging, StatusActive); err != nil {
		return fmt.Errorf("check live call: %w", err)
	}
	if live > 0 {
		return ErrLiveCallExists
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		call.ID, call.ConversationID, call.CallerID, call.ReceiverID, call.Type, call.Status,
		call.StartedAt, call.EndedAt, call.Duration, call.CreatedAt, call.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		// The partial unique index caught a concurrent initiate
		return ErrLiveCallExists
	}
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	return tx.Commit()
}

func (r *postgresRepository) Get(ctx context.Context, id string) (*Call, error) {
	var call Call
	err := r.db.GetContext(ctx, &call,
		r.db.Rebind(`SELECT `+callColumns+` FROM calls WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return &call, nil
}

func (r *postgresRepository) LiveForConversation(ctx context.Context, conversationID int64) (*Call, error) {
	var call Call
	err := r.db.GetContext(ctx, &call, r.db.Rebind(`
		SELECT `+callColumns+` FROM calls
		WHERE conversation_id = ? AND status IN (?, ?, ?)`),
		conversationID, StatusInitiating, StatusRinging, StatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live call: %w", err)
	}
	return &call, nil
}

func (r *postgresRepository) ListLive(ctx context.Context, statuses ...Status) ([]*Call, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusInitiating, StatusRinging, StatusActive}
	}
	query, args, err := sqlx.In(`SELECT `+callColumns+` FROM calls WHERE status IN (?) ORDER BY updated_at`, statuses)
	if err != nil {
		return nil, fmt.Errorf("expand statuses: %w", err)
	}

	out := []*Call{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list live calls: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) History(ctx context.Context, userID int64, limit int) ([]*Call, error) {
	out := []*Call{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+callColumns+` FROM calls
		WHERE caller_id = ? OR receiver_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("call history: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, call *Call, from Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE calls
		SET status = ?, started_at = ?, ended_at = ?, duration = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		call.Status, call.StartedAt, call.EndedAt, call.Duration, call.UpdatedAt,
		call.ID, from,
	)
	if database.IsUniqueViolation(err) {
		// Leaving a terminal state would revive a second live call
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update call status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
