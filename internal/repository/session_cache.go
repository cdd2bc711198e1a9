package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/whisperexam/whisper-backend/internal/config"
)

// SessionCache mirrors each live session's expire_at into Redis so the hot
// path (ticks, save checks) avoids a database read. Postgres stays the
// source of truth; a cache miss is healed from the session row.
type SessionCache struct {
	rdb *redis.Client
}

// NewSessionCache creates a new SessionCache.
func NewSessionCache(rdb *redis.Client) *SessionCache {
	return &SessionCache{rdb: rdb}
}

// SetExpiry stores the session's deadline. The key self-destructs shortly
// after the deadline passes, so terminal sessions leave no residue.
func (c *SessionCache) SetExpiry(ctx context.Context, sessionID uuid.UUID, expireAt time.Time) error {
	ttl := time.Until(expireAt) + 10*time.Minute
	if ttl <= 0 {
		return nil
	}
	key := config.CacheKey.SessionExpiryKey(sessionID.String())
	return c.rdb.Set(ctx, key, expireAt.UTC().Format(time.RFC3339Nano), ttl).Err()
}

// GetExpiry reads the cached deadline. Returns ErrNotFound on a miss;
// callers heal the cache from the database row.
func (c *SessionCache) GetExpiry(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	key := config.CacheKey.SessionExpiryKey(sessionID.String())
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Corrupt entry: treat as a miss so it gets rewritten.
		return time.Time{}, ErrNotFound
	}
	return t, nil
}

// Drop removes the cached deadline once a session is terminal.
func (c *SessionCache) Drop(ctx context.Context, sessionID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionExpiryKey(sessionID.String())).Err()
}
