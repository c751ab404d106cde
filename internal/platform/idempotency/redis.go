package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "orderline:idem:"

// RedisStore shares idempotency state across instances. Expiry is left to
// Redis key TTLs.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

// Claim implements Store. The claim is a SET NX so exactly one caller wins.
func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (Outcome, Entry, error) {
	ttl = ttlOrDefault(ttl)
	rkey := redisKeyPrefix + storageKey(key)
	claim := Entry{Fingerprint: fingerprint, ExpiresAt: s.now().Add(ttl)}
	data, err := json.Marshal(claim)
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: encode claim: %w", err)
	}

	created, err := s.client.SetNX(ctx, rkey, data, ttl).Result()
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: claim: %w", err)
	}
	if created {
		return OutcomeClaimed, claim, nil
	}

	existing, err := s.load(ctx, rkey)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Claim(ctx, key, fingerprint, ttl)
	}
	if err != nil {
		return 0, Entry{}, err
	}
	if existing.Fingerprint != fingerprint {
		return 0, Entry{}, ErrFingerprintMismatch
	}
	if existing.Completed {
		return OutcomeReplay, existing, nil
	}
	return OutcomeInFlight, existing, nil
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	ttl = ttlOrDefault(ttl)
	rkey := redisKeyPrefix + storageKey(key)
	data, err := json.Marshal(completedEntry(fingerprint, resp, s.now().Add(ttl)))
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := decodeEntry(tx.Get(ctx, rkey))
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, ttl)
			return nil
		})
		return err
	}, rkey)
}

// Release implements Store. Only the claim holder's entry is removed.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	rkey := redisKeyPrefix + storageKey(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := decodeEntry(tx.Get(ctx, rkey))
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Fingerprint != fingerprint {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rkey)
			return nil
		})
		return err
	}, rkey)
}

func (s *RedisStore) load(ctx context.Context, rkey string) (Entry, error) {
	return decodeEntry(s.client.Get(ctx, rkey))
}

func decodeEntry(cmd *redis.StringCmd) (Entry, error) {
	data, err := cmd.Bytes()
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	return entry, nil
}
