package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionExpiryKey returns the cache key holding a session's expire_at
// timestamp (RFC 3339).
func (r *CacheKeyStruct) SessionExpiryKey(sessionID string) string {
	return fmt.Sprintf("session:%s:expire_at", sessionID)
}

// SessionEventsChannel returns the Redis PubSub channel name for one
// session's event stream.
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// SessionEventsPattern returns the PSubscribe pattern covering every
// session event channel.
func (r *CacheKeyStruct) SessionEventsPattern() string {
	return "session:*:events"
}

// UserActiveSessionKey returns the cache key for a user's currently
// active session in an exam.
func (r *CacheKeyStruct) UserActiveSessionKey(examID, userID string) string {
	return fmt.Sprintf("user:%s:exam:%s:active_session", userID, examID)
}

var CacheKey = NewCacheKeyStruct()
