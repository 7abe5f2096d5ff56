// internal/clientsync/cache.go
// Local view of the server state for one signed-in user. Every server event
// is applied idempotently, so a replayed or duplicated frame leaves the
// cache unchanged.

package clientsync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-realtime/internal/events"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
)

// StatusFailed marks a placeholder the server rejected. It stays in the list
// so the user can retry.
const StatusFailed = "FAILED"

const (
	placeholderPrefix    = "local-"
	defaultTypingTimeout = 3 * time.Second
)

type Cache struct {
	mu            sync.RWMutex
	userID        int64
	typingTimeout time.Duration
	now           func() time.Time

	messages      map[int64][]*messaging.Message
	conversations map[int64]*messaging.Conversation
	// conversation -> user -> expiry
	typing   map[int64]map[int64]time.Time
	presence map[int64]events.StatusPayload
	calls    map[string]events.CallStatusPayload
	// clientMessageId -> conversation of the placeholder
	pending map[string]int64
}

func NewCache(userID int64, typingTimeout time.Duration) *Cache {
	if typingTimeout <= 0 {
		typingTimeout = defaultTypingTimeout
	}
	return &Cache{
		userID:        userID,
		typingTimeout: typingTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		messages:      make(map[int64][]*messaging.Message),
		conversations: make(map[int64]*messaging.Conversation),
		typing:        make(map[int64]map[int64]time.Time),
		presence:      make(map[int64]events.StatusPayload),
		calls:         make(map[string]events.CallStatusPayload),
		pending:       make(map[string]int64),
	}
}

func (c *Cache) UserID() int64 {
	return c.userID
}

// SetConversations seeds the summary list, typically from the REST history
func (c *Cache) SetConversations(list []*messaging.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range list {
		cp := *conv
		c.conversations[conv.ID] = &cp
	}
}

// SetMessages replaces the server-confirmed history of a conversation.
// Pending placeholders survive.
func (c *Cache) SetMessages(conversationID int64, list []*messaging.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]*messaging.Message, 0, len(list))
	for _, m := range list {
		cp := *m
		merged = append(merged, &cp)
	}
	for _, m := range c.messages[conversationID] {
		if isPlaceholder(m) {
			merged = append(merged, m)
		}
	}
	sortMessages(merged)
	c.messages[conversationID] = merged
}

// PrepareSend inserts the optimistic copy of an outgoing message and
// returns it along with the request to put on the wire. A missing
// clientMessageId is generated.
func (c *Cache) PrepareSend(req events.SendMessage) (*messaging.Message, events.SendMessage) {
	if req.ClientMessageID == "" {
		req.ClientMessageID = uuid.New().String()
	}
	if req.Type == "" {
		req.Type = messaging.TypeText
	}

	now := c.now()
	cmid := req.ClientMessageID
	m := &messaging.Message{
		ID:              placeholderPrefix + cmid,
		ConversationID:  req.ConversationID,
		SenderID:        c.userID,
		Content:         req.Content,
		Type:            req.Type,
		MediaURLs:       messaging.StringList(req.MediaURLs),
		Status:          messaging.StatusSent,
		ClientMessageID: &cmid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[cmid] = req.ConversationID
	c.insert(m)
	c.touch(m)

	cp := *m
	return &cp, req
}

// FailSend marks the placeholder for clientMessageID as failed. It reports
// false when no such placeholder is pending.
func (c *Cache) FailSend(clientMessageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	convID, ok := c.pending[clientMessageID]
	if !ok {
		return false
	}
	delete(c.pending, clientMessageID)

	for _, m := range c.messages[convID] {
		if m.ID == placeholderPrefix+clientMessageID {
			m.Status = StatusFailed
			return true
		}
	}
	return false
}

// Apply folds one server event into the cache. Unknown events are ignored.
func (c *Cache) Apply(env events.Envelope) error {
	switch env.Type {
	case events.MessageReceived:
		var m messaging.Message
		if err := env.Decode(&m); err != nil {
			return decodeErr(env, err)
		}
		c.applyReceived(&m)

	case events.MessageEdited:
		var m messaging.Message
		if err := env.Decode(&m); err != nil {
			return decodeErr(env, err)
		}
		c.applyEdited(&m)

	case events.MessageDeleted:
		var p events.MessageDeletedPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		c.applyDeleted(p)

	case events.MessageReaction:
		var p events.ReactionPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		c.applyReaction(p)

	case events.MessagesRead, events.UserReadReceipt:
		var p events.ReadPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		c.applyRead(p)

	case events.UserTyping:
		var p events.TypingPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		c.applyTyping(p)

	case events.UserStatus:
		var p events.StatusPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		c.mu.Lock()
		c.presence[p.UserID] = p
		c.mu.Unlock()

	case events.CallStatus:
		var p events.CallStatusPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		c.mu.Lock()
		c.calls[p.CallID] = p
		c.mu.Unlock()

	case events.Error:
		var p events.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return decodeErr(env, err)
		}
		if p.ClientMessageID != "" {
			c.FailSend(p.ClientMessageID)
		}
	}
	return nil
}

func decodeErr(env events.Envelope, err error) error {
	return fmt.Errorf("decode %s: %w", env.Type, err)
}

// applyReceived replaces the placeholder carrying the same clientMessageId,
// or the copy with the same id, before falling back to an insert
func (c *Cache) applyReceived(m *messaging.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.messages[m.ConversationID]
	for i, existing := range list {
		sameID := existing.ID == m.ID
		samePlaceholder := m.ClientMessageID != nil && isPlaceholder(existing) &&
			existing.ID == placeholderPrefix+*m.ClientMessageID
		if !sameID && !samePlaceholder {
			continue
		}
		if samePlaceholder {
			delete(c.pending, *m.ClientMessageID)
		}
		m.ReadBy = mergeReceipts(existing.ReadBy, m.ReadBy)
		if m.Reactions == nil {
			m.Reactions = existing.Reactions
		}
		list[i] = m
		sortMessages(list)
		c.touch(m)
		return
	}

	c.insert(m)
	c.touch(m)
	if m.SenderID != c.userID {
		c.summary(m.ConversationID).UnreadCount++
	}
	c.clearTyping(m.ConversationID, m.SenderID)
}

func (c *Cache) applyEdited(m *messaging.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.find(m.ConversationID, m.ID)
	if existing == nil {
		return
	}
	existing.Content = m.Content
	existing.IsEdited = m.IsEdited
	existing.EditedAt = m.EditedAt
	existing.PreviousContent = m.PreviousContent
	existing.UpdatedAt = m.UpdatedAt
}

func (c *Cache) applyDeleted(p events.MessageDeletedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.messages[p.ConversationID]
	for i, m := range list {
		if m.ID == p.MessageID {
			c.messages[p.ConversationID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// applyReaction mirrors the server toggle: the removed flag says which way
// it went, so applying the same event twice changes nothing
func (c *Cache) applyReaction(p events.ReactionPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.find(p.ConversationID, p.MessageID)
	if m == nil {
		return
	}

	for i, r := range m.Reactions {
		if r.UserID == p.UserID && r.Emoji == p.Emoji {
			if p.Removed {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			}
			return
		}
	}
	if !p.Removed {
		m.Reactions = append(m.Reactions, &messaging.Reaction{
			MessageID: p.MessageID,
			UserID:    p.UserID,
			Emoji:     p.Emoji,
			CreatedAt: p.CreatedAt,
		})
	}
}

// applyRead adds receipts for the listed messages, or for everything the
// reader had been sent up to ReadAt when no ids are given
func (c *Cache) applyRead(p events.ReadPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[string]bool, len(p.MessageIDs))
	for _, id := range p.MessageIDs {
		ids[id] = true
	}

	for _, m := range c.messages[p.ConversationID] {
		if m.SenderID == p.UserID || isPlaceholder(m) {
			continue
		}
		if len(ids) > 0 && !ids[m.ID] {
			continue
		}
		if len(ids) == 0 && m.CreatedAt.After(p.ReadAt) {
			continue
		}
		if !hasReceipt(m.ReadBy, p.UserID) {
			m.ReadBy = append(m.ReadBy, &messaging.ReadReceipt{MessageID: m.ID, UserID: p.UserID, ReadAt: p.ReadAt})
		}
		if m.SenderID == c.userID {
			m.Status = messaging.StatusRead
		}
	}

	// Our own read from another device clears the badge
	if p.UserID == c.userID {
		if conv, ok := c.conversations[p.ConversationID]; ok {
			conv.UnreadCount = 0
		}
	}
}

func (c *Cache) applyTyping(p events.TypingPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !p.IsTyping {
		c.clearTyping(p.ConversationID, p.UserID)
		return
	}
	set, ok := c.typing[p.ConversationID]
	if !ok {
		set = make(map[int64]time.Time)
		c.typing[p.ConversationID] = set
	}
	set[p.UserID] = c.now().Add(c.typingTimeout)
}

func (c *Cache) clearTyping(conversationID, userID int64) {
	if set, ok := c.typing[conversationID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(c.typing, conversationID)
		}
	}
}

// MarkConversationRead clears the local unread badge when the user opens it
func (c *Cache) MarkConversationRead(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.conversations[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// Messages returns a snapshot of a conversation, oldest first
func (c *Cache) Messages(conversationID int64) []*messaging.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.messages[conversationID]
	out := make([]*messaging.Message, len(list))
	for i, m := range list {
		cp := *m
		cp.ReadBy = append([]*messaging.ReadReceipt(nil), m.ReadBy...)
		cp.Reactions = append([]*messaging.Reaction(nil), m.Reactions...)
		out[i] = &cp
	}
	return out
}

// Conversations returns summaries by last activity, most recent first
func (c *Cache) Conversations() []*messaging.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*messaging.Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		cp := *conv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Typing lists the users currently typing in a conversation
func (c *Cache) Typing(conversationID int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var out []int64
	for uid, expiry := range c.typing[conversationID] {
		if now.Before(expiry) {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Presence returns the last status seen for a user
func (c *Cache) Presence(userID int64) (events.StatusPayload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presence[userID]
	return p, ok
}

func (c *Cache) Call(callID string) (events.CallStatusPayload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.calls[callID]
	return p, ok
}

func (c *Cache) insert(m *messaging.Message) {
	list := append(c.messages[m.ConversationID], m)
	sortMessages(list)
	c.messages[m.ConversationID] = list
}

func (c *Cache) find(conversationID int64, messageID string) *messaging.Message {
	for _, m := range c.messages[conversationID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (c *Cache) summary(conversationID int64) *messaging.Conversation {
	conv, ok := c.conversations[conversationID]
	if !ok {
		conv = &messaging.Conversation{ID: conversationID, Type: "direct"}
		c.conversations[conversationID] = conv
	}
	return conv
}

// touch moves the conversation's last activity forward, never back
func (c *Cache) touch(m *messaging.Message) {
	conv := c.summary(m.ConversationID)
	if conv.LastMessageAt != nil && conv.LastMessageAt.After(m.CreatedAt) {
		return
	}
	at := m.CreatedAt
	preview := previewOf(m)
	conv.LastMessageAt = &at
	conv.LastMessagePreview = &preview
}

func previewOf(m *messaging.Message) string {
	if m.Type == messaging.TypeText || m.Content != "" {
		return m.Content
	}
	return "[" + m.Type + "]"
}

func sortMessages(list []*messaging.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func isPlaceholder(m *messaging.Message) bool {
	return strings.HasPrefix(m.ID, placeholderPrefix)
}

func hasReceipt(list []*messaging.ReadReceipt, userID int64) bool {
	for _, r := range list {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func mergeReceipts(a, b []*messaging.ReadReceipt) []*messaging.ReadReceipt {
	out := append([]*messaging.ReadReceipt(nil), b...)
	for _, r := range a {
		if !hasReceipt(out, r.UserID) {
			out = append(out, r)
		}
	}
	return out
}
