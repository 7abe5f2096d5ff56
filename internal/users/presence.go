// internal/users/presence.go
// Online/offline state. The users table is the record; Redis, when
// configured, mirrors it so every node can answer IsOnline cheaply.
// Live connections are tracked per user across all nodes, so a user goes
// offline only when their last connection anywhere closes.

package users

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	onlineSetKey      = "presence:online"
	lastSeenKeyPrefix = "presence:last_seen:"
	lastSeenTTL       = 30 * 24 * time.Hour
	connsKeyPrefix    = "presence:conns:"
	// Bounds how long connections of a crashed node keep a user online
	connsTTL = 24 * time.Hour
)

type PresenceService struct {
	repo  Repository
	redis *redis.Client
	now   func() time.Time

	// conns holds connection ids per user when Redis is not configured
	mu    sync.Mutex
	conns map[int64]map[string]struct{}
}

// NewPresenceService accepts a nil redis client for single-node setups
func NewPresenceService(repo Repository, redisClient *redis.Client) *PresenceService {
	return &PresenceService{
		repo:  repo,
		redis: redisClient,
		now:   func() time.Time { return time.Now().UTC() },
		conns: make(map[int64]map[string]struct{}),
	}
}

// Connect records a live connection and reports whether it is the user's
// first one on any node. Repeating it for the same connection reports false.
func (s *PresenceService) Connect(ctx context.Context, userID int64, connectionID string) (bool, error) {
	if s.redis != nil {
		key := connsKeyPrefix + strconv.FormatInt(userID, 10)
		pipe := s.redis.TxPipeline()
		added := pipe.SAdd(ctx, key, connectionID)
		pipe.Expire(ctx, key, connsTTL)
		count := pipe.SCard(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("track connection: %w", err)
		}
		return added.Val() == 1 && count.Val() == 1, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.conns[userID]
	if !ok {
		conns = make(map[string]struct{})
		s.conns[userID] = conns
	}
	if _, dup := conns[connectionID]; dup {
		return false, nil
	}
	conns[connectionID] = struct{}{}
	return len(conns) == 1, nil
}

// Disconnect forgets a connection and reports whether it was the user's
// last one on any node. Unknown connections report false.
func (s *PresenceService) Disconnect(ctx context.Context, userID int64, connectionID string) (bool, error) {
	if s.redis != nil {
		key := connsKeyPrefix + strconv.FormatInt(userID, 10)
		pipe := s.redis.TxPipeline()
		removed := pipe.SRem(ctx, key, connectionID)
		count := pipe.SCard(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("untrack connection: %w", err)
		}
		return removed.Val() == 1 && count.Val() == 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.conns[userID]
	if !ok {
		return false, nil
	}
	if _, known := conns[connectionID]; !known {
		return false, nil
	}
	delete(conns, connectionID)
	if len(conns) > 0 {
		return false, nil
	}
	delete(s.conns, userID)
	return true, nil
}

func (s *PresenceService) SetOnline(ctx context.Context, userID int64) (*Presence, error) {
	return s.set(ctx, userID, StatusOnline)
}

func (s *PresenceService) SetOffline(ctx context.Context, userID int64) (*Presence, error) {
	return s.set(ctx, userID, StatusOffline)
}

func (s *PresenceService) set(ctx context.Context, userID int64, status string) (*Presence, error) {
	now := s.now()
	if err := s.repo.SetStatus(ctx, userID, status, now); err != nil {
		return nil, fmt.Errorf("persist presence: %w", err)
	}

	if s.redis != nil {
		member := strconv.FormatInt(userID, 10)
		pipe := s.redis.TxPipeline()
		if status == StatusOnline {
			pipe.SAdd(ctx, onlineSetKey, member)
		} else {
			pipe.SRem(ctx, onlineSetKey, member)
		}
		pipe.Set(ctx, lastSeenKeyPrefix+member, now.Unix(), lastSeenTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			// The table already holds the truth
			log.Printf("[presence] redis mirror failed for user %d: %v", userID, err)
		}
	}

	return &Presence{UserID: userID, Status: status, LastSeen: &now}, nil
}

// IsOnline consults Redis first and falls back to the persisted status
func (s *PresenceService) IsOnline(ctx context.Context, userID int64) (bool, error) {
	if s.redis != nil {
		online, err := s.redis.SIsMember(ctx, onlineSetKey, strconv.FormatInt(userID, 10)).Result()
		if err == nil {
			return online, nil
		}
		log.Printf("[presence] redis lookup failed for user %d: %v", userID, err)
	}

	p, err := s.repo.GetPresence(ctx, userID)
	if err != nil {
		return false, err
	}
	return p.Status == StatusOnline, nil
}

// LastSeen is the time of the user's last presence change, read from the
// Redis mirror when available
func (s *PresenceService) LastSeen(ctx context.Context, userID int64) (*time.Time, error) {
	if s.redis != nil {
		unix, err := s.redis.Get(ctx, lastSeenKeyPrefix+strconv.FormatInt(userID, 10)).Int64()
		if err == nil {
			t := time.Unix(unix, 0).UTC()
			return &t, nil
		}
		if err != redis.Nil {
			log.Printf("[presence] redis last seen failed for user %d: %v", userID, err)
		}
	}

	p, err := s.repo.GetPresence(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.LastSeen, nil
}

func (s *PresenceService) Get(ctx context.Context, userID int64) (*Presence, error) {
	return s.repo.GetPresence(ctx, userID)
}
