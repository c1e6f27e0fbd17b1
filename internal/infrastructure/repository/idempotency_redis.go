package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
)

const (
	redisResponsePrefix = "idempotency:response:"
	redisLockPrefix     = "idempotency:lock:"

	redisReleaseTimeout = 5 * time.Second
)

// errClaimLost is returned when the claim lock expired before the response was stored.
var errClaimLost = errors.New("idempotency claim expired before completion")

// KEYS[1] lock, KEYS[2] response; ARGV[1] token, ARGV[2] lock ttl (ms)
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return 1
end
return 0
`)

// KEYS[1] lock, KEYS[2] response; ARGV[1] token, ARGV[2] response json, ARGV[3] response ttl (ms)
var completeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1] lock; ARGV[1] token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// redisIdempotencyStore shares idempotency state across processes. A claim
// is a lock key holding a random token; it expires after the lock timeout so
// a crashed process cannot hold a key forever.
type redisIdempotencyStore struct {
	client redis.UniversalClient
	cfg    storeConfig
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store
func NewRedisIdempotencyStore(client redis.UniversalClient, opts ...StoreOption) domainRepo.IdempotencyStore {
	return &redisIdempotencyStore{client: client, cfg: newStoreConfig(opts)}
}

func (s *redisIdempotencyStore) IsSupported(r *http.Request) bool {
	return s.cfg.policy.Supports(r)
}

func (s *redisIdempotencyStore) GetResponseFromCache(ctx context.Context, key string) (*entity.CachedResponse, error) {
	data, err := s.client.Get(ctx, redisResponsePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency response: %w", err)
	}

	var resp entity.CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode idempotency response: %w", err)
	}
	return &resp, nil
}

func (s *redisIdempotencyStore) BeginRequest(ctx context.Context, key, fingerprint string) (domainRepo.Transaction, error) {
	token := uuid.NewString()
	ok, err := claimScript.Run(ctx, s.client,
		[]string{redisLockPrefix + key, redisResponsePrefix + key},
		token, s.cfg.lockTimeout.Milliseconds(),
	).Bool()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentRequest()
	}
	return &redisTransaction{store: s, key: key, token: token}, nil
}

func (s *redisIdempotencyStore) CompleteRequest(ctx context.Context, key string, resp *entity.CachedResponse, tx domainRepo.Transaction) error {
	rtx, ok := tx.(*redisTransaction)
	if !ok || rtx.store != s || rtx.key != key {
		return errForeignTransaction
	}

	rtx.mu.Lock()
	defer rtx.mu.Unlock()
	if rtx.released {
		return errTransactionReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotency response: %w", err)
	}
	stored, err := completeScript.Run(ctx, s.client,
		[]string{redisLockPrefix + key, redisResponsePrefix + key},
		rtx.token, data, s.cfg.ttl.Milliseconds(),
	).Bool()
	if err != nil {
		return fmt.Errorf("store idempotency response: %w", err)
	}
	if !stored {
		return errClaimLost
	}
	rtx.released = true
	return nil
}

type redisTransaction struct {
	store *redisIdempotencyStore
	key   string
	token string

	mu       sync.Mutex
	released bool
}

// Dispose deletes the lock if this transaction still owns it. It runs on its
// own context because the request context may already be cancelled.
func (t *redisTransaction) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	t.released = true

	ctx, cancel := context.WithTimeout(context.Background(), redisReleaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, t.store.client, []string{redisLockPrefix + t.key}, t.token).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
