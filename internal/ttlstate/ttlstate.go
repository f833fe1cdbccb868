// Package ttlstate provides keyed, TTL-bounded state shared across the
// engine: outbound send dedup, AI-responder gating, and scheduler dedup
// windows. All state is explicit and expiring; nothing here is durable.
package ttlstate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	c "github.com/patrickmn/go-cache"
)

// Store is a small get/set/clear facade over an expiring cache.
type Store struct {
	cache *c.Cache
}

// New creates a Store that purges expired entries every cleanup interval.
func New(cleanup time.Duration) *Store {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Store{cache: c.New(c.NoExpiration, cleanup)}
}

// Set stores value under key for ttl.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.cache.Set(key, value, ttl)
}

// Get returns the value for key and whether it is present and unexpired.
func (s *Store) Get(key string) (any, bool) {
	return s.cache.Get(key)
}

// GetBool returns the boolean at key, or ok=false when absent or not a bool.
func (s *Store) GetBool(key string) (bool, bool) {
	v, found := s.cache.Get(key)
	if !found {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Clear removes key.
func (s *Store) Clear(key string) {
	s.cache.Delete(key)
}

// SetIfAbsent stores value only when key is not already present. Returns
// true when the value was stored. Used for dedup windows: the first caller
// wins, later callers within the TTL are suppressed.
func (s *Store) SetIfAbsent(key string, value any, ttl time.Duration) bool {
	return s.cache.Add(key, value, ttl) == nil
}

// SendDedupKey builds the dedup key for an outbound message: a conversation
// plus a content hash, so a channel's own delivery echo is recognized.
func SendDedupKey(conversation, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("sent:%s:%s", conversation, hex.EncodeToString(sum[:8]))
}

// AIGateKey builds the key gating the external AI responder for a conversation.
func AIGateKey(conversation string) string {
	return "ai_gate:" + conversation
}

// AIPromptKey builds the key holding a temporary custom AI prompt.
func AIPromptKey(conversation string) string {
	return "ai_prompt:" + conversation
}

// ScheduleDedupKey builds the scheduler dedup-window key for one workflow
// firing against one conversation.
func ScheduleDedupKey(workflowID, conversation string) string {
	return fmt.Sprintf("sched:%s:%s", workflowID, conversation)
}
