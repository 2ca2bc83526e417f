package submission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore deduplicates creation requests. A key maps to the
// submission ID that the first request with that key produced; replays return
// the original submission, producing no new record and no duplicate events.
type IdempotencyStore interface {
	// Check looks up the submission ID previously stored for a key.
	Check(ctx context.Context, key string) (submissionID string, found bool, err error)

	// Store records the submission ID for a key with a TTL.
	Store(ctx context.Context, key string, submissionID string, ttl time.Duration) error
}

// FormatIdempotencyKey builds the standard creation dedup key.
func FormatIdempotencyKey(intakeID, key string) string {
	return fmt.Sprintf("fb:idem:create:%s:%s", intakeID, key)
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*idemEntry
}

type idemEntry struct {
	submissionID string
	expiresAt    time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*idemEntry)}
}

// Check looks up a previously stored submission ID.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.submissionID, true, nil
}

// Store records a submission ID with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, submissionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &idemEntry{
		submissionID: submissionID,
		expiresAt:    time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a previously stored submission ID in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string) (string, bool, error) {
	id, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return id, true, nil
}

// Store records a submission ID in Redis with TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, submissionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, submissionID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
