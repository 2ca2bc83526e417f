package submission

import "context"

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// HealthCheck verifies connectivity to PostgreSQL.
func (s *PgStore) HealthCheck(ctx context.Context) error { return s.Ping(ctx) }

// HealthCheck always succeeds for the in-memory idempotency store.
func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error { return nil }

// HealthCheck verifies connectivity to Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
