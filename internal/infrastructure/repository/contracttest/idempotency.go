// Package contracttest holds behaviour suites shared by every implementation
// of a domain repository interface.
package contracttest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/pkg/apperror"
)

// IdempotencyStoreFactory returns a fresh store. Stores that wait on a held
// claim must be configured with a short lock timeout.
type IdempotencyStoreFactory func(t *testing.T) domainRepo.IdempotencyStore

func newKey() string {
	return "key-" + uuid.NewString()
}

func sampleResponse(fingerprint string) *entity.CachedResponse {
	return &entity.CachedResponse{
		RequestFingerprint: fingerprint,
		StatusCode:         http.StatusCreated,
		LocationHeader:     "/api/v1/things/42",
		ContentTypeHeader:  "application/vnd.api+json",
		Body:               `{"data":{"type":"things","id":"42"}}`,
	}
}

func requireConflict(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	appErr := apperror.GetAppError(err)
	assert.Equal(t, http.StatusConflict, appErr.Code, "unexpected error: %v", err)
}

// RunIdempotencyStore exercises the claim, complete and replay contract.
func RunIdempotencyStore(t *testing.T, newStore IdempotencyStoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("supported requests", func(t *testing.T) {
		store := newStore(t)
		assert.True(t, store.IsSupported(httptest.NewRequest(http.MethodPost, "/api/v1/things", nil)))
		assert.True(t, store.IsSupported(httptest.NewRequest(http.MethodPatch, "/api/v1/things/1", nil)))
		assert.False(t, store.IsSupported(httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)))
		assert.False(t, store.IsSupported(httptest.NewRequest(http.MethodPost, "/api/v1/things/1/relationships/tags", nil)))
	})

	t.Run("miss", func(t *testing.T) {
		store := newStore(t)
		got, err := store.GetResponseFromCache(ctx, newKey())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("complete then replay", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		want := sampleResponse("fp-1")

		tx, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		require.NoError(t, store.CompleteRequest(ctx, key, want, tx))
		require.NoError(t, tx.Dispose(), "dispose after complete is a no-op")

		got, err := store.GetResponseFromCache(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *want, *got)
	})

	t.Run("empty optional fields survive", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		want := &entity.CachedResponse{RequestFingerprint: "fp-2", StatusCode: http.StatusNoContent}

		tx, err := store.BeginRequest(ctx, key, "fp-2")
		require.NoError(t, err)
		require.NoError(t, store.CompleteRequest(ctx, key, want, tx))

		got, err := store.GetResponseFromCache(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *want, *got)
	})

	t.Run("held claim rejects a second claim", func(t *testing.T) {
		store := newStore(t)
		key := newKey()

		tx, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		defer tx.Dispose()

		_, err = store.BeginRequest(ctx, key, "fp-1")
		requireConflict(t, err)
	})

	t.Run("completed key cannot be claimed again", func(t *testing.T) {
		store := newStore(t)
		key := newKey()

		tx, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		require.NoError(t, store.CompleteRequest(ctx, key, sampleResponse("fp-1"), tx))

		_, err = store.BeginRequest(ctx, key, "fp-1")
		requireConflict(t, err)
	})

	t.Run("dispose frees the key without caching", func(t *testing.T) {
		store := newStore(t)
		key := newKey()

		tx, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		require.NoError(t, tx.Dispose())
		require.NoError(t, tx.Dispose(), "dispose is idempotent")

		got, err := store.GetResponseFromCache(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)

		tx2, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		require.NoError(t, tx2.Dispose())
	})

	t.Run("complete after dispose fails", func(t *testing.T) {
		store := newStore(t)
		key := newKey()

		tx, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		require.NoError(t, tx.Dispose())

		require.Error(t, store.CompleteRequest(ctx, key, sampleResponse("fp-1"), tx))
		got, err := store.GetResponseFromCache(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("cancelled completion persists nothing", func(t *testing.T) {
		store := newStore(t)
		key := newKey()

		tx, err := store.BeginRequest(ctx, key, "fp-1")
		require.NoError(t, err)
		defer tx.Dispose()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		require.Error(t, store.CompleteRequest(cancelled, key, sampleResponse("fp-1"), tx))
		require.NoError(t, tx.Dispose())

		got, err := store.GetResponseFromCache(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
