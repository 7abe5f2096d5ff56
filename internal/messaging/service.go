// internal/messaging/service.go

package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

var (
	ErrConversationNotFound = apperr.NotFound("conversation not found")
	ErrMessageNotFound      = apperr.NotFound("message not found")
	ErrNotParticipant       = apperr.Authorization("not a participant in this conversation")
	ErrNotSender            = apperr.Authorization("only the sender can change this message")
	ErrEditWindowExpired    = apperr.BadRequest("message can no longer be edited")
	ErrConversationMismatch = apperr.BadRequest("message does not belong to this conversation")
	ErrEmptyMessage         = apperr.BadRequest("message content is required")
	ErrMediaNotAllowed      = apperr.BadRequest("media URL is not allowed")
)

const (
	DefaultEditWindow = 5 * time.Minute
	defaultPageSize   = 50
	maxPageSize       = 200
	previewLength     = 100
)

// ProfileLookup resolves the public profile attached to outgoing messages
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID int64) (*users.Profile, error)
}

// MediaPolicy decides which media URLs a message may reference
type MediaPolicy interface {
	Allowed(url string) bool
}

// Config tunes the service. Zero values fall back to defaults.
type Config struct {
	EditWindow time.Duration
	Now        func() time.Time
}

type Service interface {
	Send(ctx context.Context, userID int64, req *SendMessageRequest) (*Message, error)
	Edit(ctx context.Context, userID int64, messageID, newContent string) (*Message, error)
	Delete(ctx context.Context, userID int64, messageID string) (*Message, error)
	React(ctx context.Context, userID int64, messageID, emoji string) (*ReactionResult, error)
	MarkConversationRead(ctx context.Context, userID, conversationID int64) (*ReadResult, error)
	MarkMessagesRead(ctx context.Context, userID, conversationID int64, messageIDs []string) (*ReadResult, error)
	MarkDelivered(ctx context.Context, userID int64) (int64, error)

	GetMessage(ctx context.Context, userID int64, messageID string) (*Message, error)
	ListMessages(ctx context.Context, userID, conversationID int64, before *time.Time, limit int) ([]*Message, error)
	ListConversations(ctx context.Context, userID int64, limit int) ([]*Conversation, error)
	ListReactions(ctx context.Context, userID int64, messageID string) ([]*Reaction, error)

	CheckParticipant(ctx context.Context, userID, conversationID int64) error
	ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
}

type service struct {
	repo       Repository
	profiles   ProfileLookup
	media      MediaPolicy
	editWindow time.Duration
	now        func() time.Time
}

// NewService wires the message router. profiles and media may be nil.
func NewService(repo Repository, profiles ProfileLookup, media MediaPolicy, cfg Config) Service {
	s := &service{
		repo:       repo,
		profiles:   profiles,
		media:      media,
		editWindow: cfg.EditWindow,
		now:        cfg.Now,
	}
	if s.editWindow <= 0 {
		s.editWindow = DefaultEditWindow
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// CheckParticipant fails with NotFound for a missing conversation and
// Authorization for a non-member.
func (s *service) CheckParticipant(ctx context.Context, userID, conversationID int64) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return ErrNotParticipant
}

func (s *service) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	return s.repo.ParticipantIDs(ctx, conversationID)
}

func (s *service) Send(ctx context.Context, userID int64, req *SendMessageRequest) (*Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	msgType := req.Type
	if msgType == "" {
		msgType = TypeText
	}
	content := strings.TrimSpace(req.Content)
	if msgType == TypeText && content == "" {
		return nil, ErrEmptyMessage
	}
	if msgType != TypeText && len(req.MediaURLs) == 0 && content == "" {
		return nil, ErrEmptyMessage
	}
	if s.media != nil {
		for _, u := range req.MediaURLs {
			if !s.media.Allowed(u) {
				return nil, ErrMediaNotAllowed
			}
		}
	}

	if err := s.CheckParticipant(ctx, userID, req.ConversationID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       userID,
		Content:        content,
		Type:           msgType,
		MediaURLs:      StringList(req.MediaURLs),
		Status:         StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.ClientMessageID != "" {
		cid := req.ClientMessageID
		msg.ClientMessageID = &cid
	}

	if err := s.repo.CreateMessage(ctx, msg, preview(msg)); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.attachSender(ctx, msg)
	return msg, nil
}

// Edit is allowed for the sender only, up to and including editWindow
// after creation.
func (s *service) Edit(ctx context.Context, userID int64, messageID, newContent string) (*Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, ErrEmptyMessage
	}

	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	if err := s.CheckParticipant(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}

	now := s.now()
	if now.Sub(msg.CreatedAt) > s.editWindow {
		return nil, ErrEditWindowExpired
	}

	previous := msg.Content
	msg.PreviousContent = &previous
	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = &now
	msg.UpdatedAt = now

	if err := s.repo.UpdateMessageContent(ctx, msg); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	s.attachSender(ctx, msg)
	return msg, nil
}

// Delete returns the removed message so callers know which room to notify
func (s *service) Delete(ctx context.Context, userID int64, messageID string) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	if err := s.CheckParticipant(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return msg, nil
}

// React toggles (user, emoji) on a message
func (s *service) React(ctx context.Context, userID int64, messageID, emoji string) (*ReactionResult, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 16 {
		return nil, apperr.BadRequest("invalid emoji")
	}

	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.CheckParticipant(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}

	reaction := &Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: s.now(),
	}
	removed, err := s.repo.ToggleReaction(ctx, reaction)
	if err != nil {
		return nil, fmt.Errorf("react: %w", err)
	}

	return &ReactionResult{
		Reaction:       reaction,
		ConversationID: msg.ConversationID,
		Removed:        removed,
	}, nil
}

// MarkConversationRead receipts every message in the conversation that
// userID did not send. Repeating it adds nothing.
func (s *service) MarkConversationRead(ctx context.Context, userID, conversationID int64) (*ReadResult, error) {
	return s.markRead(ctx, userID, conversationID, nil)
}

func (s *service) MarkMessagesRead(ctx context.Context, userID, conversationID int64, messageIDs []string) (*ReadResult, error) {
	if messageIDs == nil {
		messageIDs = []string{}
	}
	return s.markRead(ctx, userID, conversationID, messageIDs)
}

func (s *service) markRead(ctx context.Context, userID, conversationID int64, messageIDs []string) (*ReadResult, error) {
	if err := s.CheckParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	readAt := s.now()
	ids, err := s.repo.MarkRead(ctx, conversationID, userID, messageIDs, readAt)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	return &ReadResult{
		ConversationID: conversationID,
		UserID:         userID,
		ReadAt:         readAt,
		MessageIDs:     ids,
	}, nil
}

func (s *service) MarkDelivered(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkDelivered(ctx, userID)
}

func (s *service) GetMessage(ctx context.Context, userID int64, messageID string) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.CheckParticipant(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a page newest first with receipts and reactions attached
func (s *service) ListMessages(ctx context.Context, userID, conversationID int64, before *time.Time, limit int) ([]*Message, error) {
	if err := s.CheckParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, conversationID, before, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	byID := make(map[string]*Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	receipts, err := s.repo.ListReceipts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		byID[r.MessageID].ReadBy = append(byID[r.MessageID].ReadBy, r)
	}

	reactions, err := s.repo.ListReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range reactions {
		byID[r.MessageID].Reactions = append(byID[r.MessageID].Reactions, r)
	}

	return msgs, nil
}

func (s *service) ListConversations(ctx context.Context, userID int64, limit int) ([]*Conversation, error) {
	convs, err := s.repo.ListUserConversations(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		ids, err := s.repo.ParticipantIDs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.ParticipantIDs = ids
	}
	return convs, nil
}

func (s *service) ListReactions(ctx context.Context, userID int64, messageID string) ([]*Reaction, error) {
	if _, err := s.GetMessage(ctx, userID, messageID); err != nil {
		return nil, err
	}
	return s.repo.ListReactions(ctx, []string{messageID})
}

func (s *service) attachSender(ctx context.Context, msg *Message) {
	if s.profiles == nil {
		return
	}
	profile, err := s.profiles.GetProfile(ctx, msg.SenderID)
	if err != nil {
		log.Printf("[messaging] sender profile %d: %v", msg.SenderID, err)
		return
	}
	msg.Sender = profile
}

func preview(msg *Message) string {
	if msg.Content == "" {
		return "[" + msg.Type + "]"
	}
	if utf8.RuneCountInString(msg.Content) <= previewLength {
		return msg.Content
	}
	return string([]rune(msg.Content)[:previewLength]) + "…"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
