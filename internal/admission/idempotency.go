// Package admission implements the single entry point used by callers to
// place orders (spec §4.I): kill-switch check, risk validation, order
// creation, and idempotency-key deduplication, composed in front of the
// order state machine and durable workflow submission.
package admission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type idempotencyStatus string

const (
	idempotencyPending  idempotencyStatus = "PENDING"
	idempotencyComplete idempotencyStatus = "COMPLETE"
)

type idempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	ResponseJSON []byte            `json:"responseJson,omitempty"`
}

// RedisIdempotencyStore backs core.IIdempotencyStore with a Redis string per
// key under the idempotency:* namespace (spec §4.I), grounded on the same
// SETEX-with-TTL shape internal/risk.Validator uses for its approval cache.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func idempotencyKeyFor(key string) string {
	return "idempotency:" + key
}

// Get returns the stored response only once it is COMPLETE; a PENDING record
// (a concurrent request is still in flight) reports found=false so the
// caller proceeds to admit a fresh attempt rather than block.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, idempotencyKeyFor(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	if rec.Status != idempotencyComplete {
		return nil, false, nil
	}
	return rec.ResponseJSON, true, nil
}

// Put records the COMPLETE response. Callers that want PENDING deduplication
// against concurrent admission of the same key should SETNX a PENDING record
// themselves via the same client before calling Put.
func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	raw, err := json.Marshal(idempotencyRecord{Status: idempotencyComplete, ResponseJSON: response})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyKeyFor(key), raw, ttl).Err()
}
