package repository

import (
	"context"
	"errors"
	"net/http"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
)

// ErrIdempotencyDisabled is returned by every NoIdempotencyStore operation
var ErrIdempotencyDisabled = errors.New("idempotency is disabled")

// NoIdempotencyStore is the store used when idempotency is turned off.
// It supports no request and rejects every operation, so a client-supplied
// key is never silently ignored.
type NoIdempotencyStore struct{}

// NewNoIdempotencyStore creates the disabled store
func NewNoIdempotencyStore() *NoIdempotencyStore {
	return &NoIdempotencyStore{}
}

func (*NoIdempotencyStore) IsSupported(*http.Request) bool {
	return false
}

func (*NoIdempotencyStore) GetResponseFromCache(context.Context, string) (*entity.CachedResponse, error) {
	return nil, ErrIdempotencyDisabled
}

func (*NoIdempotencyStore) BeginRequest(context.Context, string, string) (domainRepo.Transaction, error) {
	return nil, ErrIdempotencyDisabled
}

func (*NoIdempotencyStore) CompleteRequest(context.Context, string, *entity.CachedResponse, domainRepo.Transaction) error {
	return ErrIdempotencyDisabled
}

var _ domainRepo.IdempotencyStore = (*NoIdempotencyStore)(nil)
