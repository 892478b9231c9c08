package dedup

import (
	"context"
	"time"

	"github.com/payment-ledger/internal/cache"
	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps fingerprints in a bounded in-process LRU. Capacity bounds
// memory; eviction simply re-opens the window for the evicted fingerprint,
// which is acceptable for an advisory guard.
type MemoryStore struct {
	seen *cache.LRU[string, time.Time]
	now  func() time.Time
}

// NewMemoryStore creates a process-local fingerprint store with the given
// capacity
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		seen: cache.NewLRU[string, time.Time](capacity),
		now:  time.Now,
	}
}

// Remember implements Store
func (s *MemoryStore) Remember(_ context.Context, fingerprint string, window time.Duration) (bool, time.Duration, error) {
	now := s.now()
	if submittedAt, ok := s.seen.Get(fingerprint); ok {
		elapsed := now.Sub(submittedAt)
		if elapsed < window {
			return true, window - elapsed, nil
		}
	}
	s.seen.Set(fingerprint, now)
	return false, 0, nil
}

// RedisStore shares fingerprints across instances using SET NX with expiry.
// Used when the service scales horizontally and the advisory window should
// cover all replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a shared fingerprint store on the given client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "dedup:"}
}

// Remember implements Store. SET NX EX is atomic: exactly one concurrent
// submission wins the slot for the window.
func (s *RedisStore) Remember(ctx context.Context, fingerprint string, window time.Duration) (bool, time.Duration, error) {
	key := s.prefix + fingerprint

	set, err := s.client.SetNX(ctx, key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, 0, err
	}
	if set {
		return false, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return true, ttl, nil
}
