// Package dedupe suppresses duplicate event processing. Delivery is
// at-least-once, so side-effecting consumers claim a key per (event,
// entity) pair before acting; a second delivery finds the key taken and
// skips the side effect.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store claims idempotency keys.
type Store interface {
	// Claim atomically marks a key as processed. It returns true when this
	// caller won the claim and should perform the side effect.
	Claim(ctx context.Context, key string) (bool, error)
	// Forget returns a claim, so a redelivery can retry a side effect that
	// failed transiently after the key was claimed.
	Forget(ctx context.Context, key string) error
}

// Key builds the idempotency key for one side effect of one event.
func Key(event, orderID, productID string) string {
	return fmt.Sprintf("dedupe:%s:%s:%s", event, orderID, productID)
}

// RedisStore claims keys with SET NX so concurrent consumers agree on a
// single winner. Keys expire after the TTL; a redelivery later than that is
// processed again, which is safe for reconciled ledgers and harmless for
// notifications.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// MemoryStore is the in-process equivalent used in tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]bool{}}
}

func (s *MemoryStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}
