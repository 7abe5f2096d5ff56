// internal/messaging/postgres.go
// sqlx repository. Queries are written with '?' and rebound per driver, so
// the same code serves PostgreSQL and the embedded SQLite mode.

package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/database"
)

const messageColumns = `id, conversation_id, sender_id, content, message_type, media_urls,
	status, is_edited, edited_at, previous_content, client_message_id, created_at, updated_at`

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv, r.db.Rebind(`
		SELECT id, type, name, last_message_at, last_message_preview, created_at
		FROM conversations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListUserConversations orders by last activity, newest first
func (r *postgresRepository) ListUserConversations(ctx context.Context, userID int64, limit int) ([]*Conversation, error) {
	query := r.db.Rebind(`
		SELECT c.id, c.type, c.name, c.last_message_at, c.last_message_preview, c.created_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id <> ?
				AND NOT EXISTS (
					SELECT 1 FROM message_read_receipts rr
					WHERE rr.message_id = m.id AND rr.user_id = ?
				)) AS unread_count
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
		LIMIT ?`)

	convs := []*Conversation{}
	if err := r.db.SelectContext(ctx, &convs, query, userID, userID, userID, limit); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

func (r *postgresRepository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`), conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return n > 0, nil
}

func (r *postgresRepository) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ? ORDER BY user_id`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return ids, nil
}

// CreateMessage inserts the message and bumps the conversation's last
// activity in one transaction.
func (r *postgresRepository) CreateMessage(ctx context.Context, msg *Message, preview string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.MediaURLs,
		msg.Status, msg.IsEdited, msg.EditedAt, msg.PreviousContent, msg.ClientMessageID,
		msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE conversations SET last_message_at = ?, last_message_preview = ?
		WHERE id = ?`), msg.CreatedAt, preview, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

func (r *postgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := r.db.GetContext(ctx, &msg,
		r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns a page newest first. before is an exclusive cursor.
func (r *postgresRepository) ListMessages(ctx context.Context, conversationID int64, before *time.Time, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	msgs := []*Message{}
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// UpdateMessageContent is guarded on sender_id so a stale authorization
// check cannot rewrite someone else's message.
func (r *postgresRepository) UpdateMessageContent(ctx context.Context, msg *Message) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE messages
		SET content = ?, previous_content = ?, is_edited = ?, edited_at = ?, updated_at = ?
		WHERE id = ? AND sender_id = ?`),
		msg.Content, msg.PreviousContent, msg.IsEdited, msg.EditedAt, msg.UpdatedAt,
		msg.ID, msg.SenderID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteMessage hard-deletes; receipts and reactions go with it by cascade
func (r *postgresRepository) DeleteMessage(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM messages WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkDelivered moves SENT messages addressed to userID to DELIVERED
func (r *postgresRepository) MarkDelivered(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE messages SET status = ?
		WHERE status = ? AND sender_id <> ?
		AND conversation_id IN (
			SELECT conversation_id FROM conversation_participants WHERE user_id = ?
		)`), StatusDelivered, StatusSent, userID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	return res.RowsAffected()
}

// MarkRead writes a receipt for every message in the conversation not sent
// by userID and not yet read by them. A nil messageIDs means the whole
// conversation. Conflicts are skipped, so concurrent calls never duplicate a
// receipt; only the ids that gained a receipt here are returned.
func (r *postgresRepository) MarkRead(ctx context.Context, conversationID, userID int64, messageIDs []string, readAt time.Time) ([]string, error) {
	if messageIDs != nil && len(messageIDs) == 0 {
		return []string{}, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT m.id FROM messages m
		WHERE m.conversation_id = ? AND m.sender_id <> ?
		AND NOT EXISTS (
			SELECT 1 FROM message_read_receipts rr
			WHERE rr.message_id = m.id AND rr.user_id = ?
		)`
	args := []interface{}{conversationID, userID, userID}
	if messageIDs != nil {
		query += ` AND m.id IN (?)`
		args = append(args, messageIDs)
	}
	query += ` ORDER BY m.created_at, m.id`

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand ids: %w", err)
	}

	candidates := []string{}
	if err := tx.SelectContext(ctx, &candidates, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select unread: %w", err)
	}

	insert := tx.Rebind(`
		INSERT INTO message_read_receipts (message_id, user_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING`)
	markRead := tx.Rebind(`UPDATE messages SET status = ? WHERE id = ?`)

	read := make([]string, 0, len(candidates))
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, insert, id, userID, readAt)
		if err != nil {
			return nil, fmt.Errorf("insert receipt: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, markRead, StatusRead, id); err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		read = append(read, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return read, nil
}

func (r *postgresRepository) ListReceipts(ctx context.Context, messageIDs []string) ([]*ReadReceipt, error) {
	receipts := []*ReadReceipt{}
	if len(messageIDs) == 0 {
		return receipts, nil
	}

	query, args, err := sqlx.In(`
		SELECT message_id, user_id, read_at FROM message_read_receipts
		WHERE message_id IN (?) ORDER BY read_at, user_id`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("expand ids: %w", err)
	}
	if err := r.db.SelectContext(ctx, &receipts, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return receipts, nil
}

// ToggleReaction removes the (message, user, emoji) row if present and
// inserts it otherwise. The primary key settles concurrent toggles.
func (r *postgresRepository) ToggleReaction(ctx context.Context, reaction *Reaction) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM message_reactions
		WHERE message_id = ? AND user_id = ? AND emoji = ?`),
		reaction.MessageID, reaction.UserID, reaction.Emoji)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}

	removed := false
	if n, _ := res.RowsAffected(); n > 0 {
		removed = true
	} else {
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
			VALUES (?, ?, ?, ?)`),
			reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt)
		if database.IsUniqueViolation(err) {
			// A concurrent toggle by the same user already added it
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("insert reaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

func (r *postgresRepository) ListReactions(ctx context.Context, messageIDs []string) ([]*Reaction, error) {
	reactions := []*Reaction{}
	if len(messageIDs) == 0 {
		return reactions, nil
	}

	query, args, err := sqlx.In(`
		SELECT message_id, user_id, emoji, created_at FROM message_reactions
		WHERE message_id IN (?) ORDER BY created_at, user_id`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("expand ids: %w", err)
	}
	if err := r.db.SelectContext(ctx, &reactions, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return reactions, nil
}
