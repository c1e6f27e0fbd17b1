package repository

import (
	"net/http"
	"strings"
	"time"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	"github.com/sangkips/idempotency-api/pkg/apperror"
)

const (
	// DefaultIdempotencyTTL is how long completed responses are kept
	DefaultIdempotencyTTL = 24 * time.Hour
	// DefaultLockTimeout bounds how long a claim may be held or waited for
	DefaultLockTimeout = 30 * time.Second
)

// SupportPolicy decides which requests take part in idempotency
type SupportPolicy struct {
	Methods              []string
	ExcludedPathSegments []string
}

// DefaultSupportPolicy applies idempotency to creates and updates, but not
// to relationship endpoints.
func DefaultSupportPolicy() SupportPolicy {
	return SupportPolicy{
		Methods:              []string{http.MethodPost, http.MethodPatch},
		ExcludedPathSegments: []string{"/relationships/"},
	}
}

// Supports reports whether r is covered by the policy
func (p SupportPolicy) Supports(r *http.Request) bool {
	methodOK := false
	for _, m := range p.Methods {
		if strings.EqualFold(m, r.Method) {
			methodOK = true
			break
		}
	}
	if !methodOK {
		return false
	}
	for _, seg := range p.ExcludedPathSegments {
		if seg != "" && strings.Contains(r.URL.Path, seg) {
			return false
		}
	}
	return true
}

type storeConfig struct {
	policy      SupportPolicy
	ttl         time.Duration
	lockTimeout time.Duration
	now         func() time.Time
}

// StoreOption configures an idempotency store.
type StoreOption func(*storeConfig)

// WithSupportPolicy sets which requests the store accepts.
func WithSupportPolicy(p SupportPolicy) StoreOption {
	return func(c *storeConfig) {
		c.policy = p
	}
}

// WithTTL sets how long completed responses are replayed.
//
// Default: 24 hours
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLockTimeout bounds how long a claim is held (Redis) or waited on (Postgres).
//
// Default: 30 seconds
func WithLockTimeout(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{
		policy:      DefaultSupportPolicy(),
		ttl:         DefaultIdempotencyTTL,
		lockTimeout: DefaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ErrConcurrentRequest is returned by BeginRequest when another request holds the key.
func ErrConcurrentRequest() *apperror.AppError {
	return apperror.NewConflictError("The request for the provided idempotency key is currently being processed.").
		WithTitle("Failed to create idempotency key.").
		WithHeader(entity.IdempotencyKeyHeader)
}
