package attempts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scoopsociety/creamery-backend/pkg/redis"
)

// ErrNotFound signals that no attempt exists under the requested id. The
// caller decides whether that is a correlation loss or a benign replay.
var ErrNotFound = errors.New("checkout attempt not found")

// Store is the capability interface for the ephemeral attempt record.
// Attempts are deleted explicitly after materialization; the backing store
// may apply a TTL purely as a safety net.
type Store interface {
	Put(ctx context.Context, attempt *CheckoutAttempt) error
	Get(ctx context.Context, attemptID string) (*CheckoutAttempt, error)
	Delete(ctx context.Context, attemptID string) error
}

type keyValueStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	AttemptKey(attemptID string) string
}

// RedisStore persists attempts as JSON values in Redis.
type RedisStore struct {
	kv  keyValueStore
	ttl time.Duration
}

// NewRedisStore builds the Redis-backed attempt store. A zero TTL disables
// the expiry safety net.
func NewRedisStore(kv keyValueStore, ttl time.Duration) (*RedisStore, error) {
	if kv == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl < 0 {
		return nil, errors.New("attempt ttl must be non-negative")
	}
	return &RedisStore{kv: kv, ttl: ttl}, nil
}

func (s *RedisStore) Put(ctx context.Context, attempt *CheckoutAttempt) error {
	if attempt == nil {
		return errors.New("attempt is required")
	}
	if attempt.AttemptID == "" {
		return errors.New("attempt id is required")
	}
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal checkout attempt: %w", err)
	}
	key := s.kv.AttemptKey(attempt.AttemptID)
	if err := s.kv.Set(ctx, key, payload, s.ttl); err != nil {
		return fmt.Errorf("store checkout attempt: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, attemptID string) (*CheckoutAttempt, error) {
	if attemptID == "" {
		return nil, errors.New("attempt id is required")
	}
	raw, err := s.kv.Get(ctx, s.kv.AttemptKey(attemptID))
	if err != nil {
		if redis.IsNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkout attempt: %w", err)
	}
	var attempt CheckoutAttempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return nil, fmt.Errorf("decode checkout attempt: %w", err)
	}
	return &attempt, nil
}

func (s *RedisStore) Delete(ctx context.Context, attemptID string) error {
	if attemptID == "" {
		return errors.New("attempt id is required")
	}
	return s.kv.Del(ctx, s.kv.AttemptKey(attemptID))
}
