package repository

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
)

var errForeignTransaction = errors.New("transaction was not issued by this store")

// errTransactionReleased is returned when completing a claim that was already disposed or completed.
var errTransactionReleased = errors.New("idempotency transaction already released")

type memoryRecord struct {
	response  entity.CachedResponse
	expiresAt time.Time
}

// memoryIdempotencyStore keeps idempotency records in process memory.
// It is suitable for single-instance deployments and tests; claims are not
// shared across processes.
type memoryIdempotencyStore struct {
	cfg storeConfig

	mu       sync.Mutex
	records  map[string]memoryRecord
	inFlight map[string]*memoryTransaction
}

// NewMemoryIdempotencyStore creates an in-memory idempotency store
func NewMemoryIdempotencyStore(opts ...StoreOption) domainRepo.ExpiringIdempotencyStore {
	return &memoryIdempotencyStore{
		cfg:      newStoreConfig(opts),
		records:  make(map[string]memoryRecord),
		inFlight: make(map[string]*memoryTransaction),
	}
}

func (s *memoryIdempotencyStore) IsSupported(r *http.Request) bool {
	return s.cfg.policy.Supports(r)
}

func (s *memoryIdempotencyStore) GetResponseFromCache(ctx context.Context, key string) (*entity.CachedResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if !s.cfg.now().Before(rec.expiresAt) {
		delete(s.records, key)
		return nil, nil
	}
	resp := rec.response
	return &resp, nil
}

func (s *memoryIdempotencyStore) BeginRequest(ctx context.Context, key, fingerprint string) (domainRepo.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[key]; busy {
		return nil, ErrConcurrentRequest()
	}
	if rec, ok := s.records[key]; ok && s.cfg.now().Before(rec.expiresAt) {
		// Completed between the caller's lookup and this claim.
		return nil, ErrConcurrentRequest()
	}

	tx := &memoryTransaction{store: s, key: key, fingerprint: fingerprint}
	s.inFlight[key] = tx
	return tx, nil
}

func (s *memoryIdempotencyStore) CompleteRequest(ctx context.Context, key string, resp *entity.CachedResponse, tx domainRepo.Transaction) error {
	mtx, ok := tx.(*memoryTransaction)
	if !ok || mtx.store != s || mtx.key != key {
		return errForeignTransaction
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if mtx.released {
		return errTransactionReleased
	}
	s.records[key] = memoryRecord{
		response:  *resp,
		expiresAt: s.cfg.now().Add(s.cfg.ttl),
	}
	s.releaseLocked(mtx)
	s.deleteExpiredLocked()
	return nil
}

// DeleteExpired removes expired records
func (s *memoryIdempotencyStore) DeleteExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteExpiredLocked()
	return nil
}

// deleteExpiredLocked must be called with s.mu held.
func (s *memoryIdempotencyStore) deleteExpiredLocked() {
	now := s.cfg.now()
	for key, rec := range s.records {
		if !now.Before(rec.expiresAt) {
			delete(s.records, key)
		}
	}
}

// releaseLocked must be called with s.mu held.
func (s *memoryIdempotencyStore) releaseLocked(tx *memoryTransaction) {
	if tx.released {
		return
	}
	tx.released = true
	if s.inFlight[tx.key] == tx {
		delete(s.inFlight, tx.key)
	}
}

type memoryTransaction struct {
	store       *memoryIdempotencyStore
	key         string
	fingerprint string
	released    bool
}

func (tx *memoryTransaction) Dispose() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.releaseLocked(tx)
	return nil
}
