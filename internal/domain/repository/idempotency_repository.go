package repository

import (
	"context"
	"net/http"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
)

// Transaction is the claim handle returned by BeginRequest. While it is open
// no other request can complete for the same key.
type Transaction interface {
	// Dispose releases the claim without persisting anything. It is safe to
	// call more than once and is a no-op after CompleteRequest succeeded.
	Dispose() error
}

// IdempotencyStore defines the storage contract the idempotency middleware relies on.
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	// IsSupported reports whether idempotency applies to the request
	IsSupported(r *http.Request) bool
	// GetResponseFromCache returns the completed response for key, or nil when there is none
	GetResponseFromCache(ctx context.Context, key string) (*entity.CachedResponse, error)
	// BeginRequest claims key for first-time processing. At most one claim per
	// key may be open at a time; a competing claim blocks or fails.
	BeginRequest(ctx context.Context, key, fingerprint string) (Transaction, error)
	// CompleteRequest atomically persists resp and releases the claim held by tx.
	// Once it returns, every GetResponseFromCache for key observes resp.
	CompleteRequest(ctx context.Context, key string, resp *entity.CachedResponse, tx Transaction) error
}

// ExpiringIdempotencyStore is implemented by stores that need explicit cleanup of expired records
type ExpiringIdempotencyStore interface {
	IdempotencyStore
	// DeleteExpired removes expired idempotency records
	DeleteExpired(ctx context.Context) error
}
