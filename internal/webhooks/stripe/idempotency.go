package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/scoopsociety/creamery-backend/pkg/redis"
)

const idempotencyScope = "webhook:stripe"

// IdempotencyGuard deduplicates event deliveries by processor event id. The
// mark is written before the handler runs and removed again if the handler
// fails, so the delivery can be retried.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyGuard builds a guard over the given store. The TTL bounds how
// long a processed event id is remembered.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("idempotency ttl must be positive")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark claims the event id. It returns false when another delivery of
// the same event already holds the claim.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key := g.store.IdempotencyKey(idempotencyScope, eventID)
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release drops the claim so a retried delivery is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	key := g.store.IdempotencyKey(idempotencyScope, eventID)
	return g.store.Del(ctx, key)
}
