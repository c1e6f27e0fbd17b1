package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	"github.com/sangkips/idempotency-api/internal/domain/repository"
	infraRepo "github.com/sangkips/idempotency-api/internal/infrastructure/repository"
	"github.com/sangkips/idempotency-api/internal/presentation/http/dto/response"
	"github.com/sangkips/idempotency-api/pkg/apperror"
	"github.com/sangkips/idempotency-api/pkg/bodybuffer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	store   repository.IdempotencyStore
	metrics *IdempotencyMetrics
	calls   atomic.Int32
}

// newTestServer mounts handler on POST and PATCH /api/v1/things behind the middleware.
func newTestServer(t *testing.T, store repository.IdempotencyStore, handler gin.HandlerFunc, pool *bodybuffer.Pool) *testServer {
	t.Helper()
	s := &testServer{
		store:   store,
		metrics: NewIdempotencyMetrics(prometheus.NewRegistry()),
	}
	counted := func(c *gin.Context) {
		s.calls.Add(1)
		handler(c)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	api := s.router.Group("/api/v1", Idempotency(IdempotencyConfig{
		Store:      store,
		BufferPool: pool,
		Metrics:    s.metrics,
	}))
	api.POST("/things", counted)
	api.PATCH("/things/:id", counted)
	api.GET("/things", counted)
	api.POST("/things/:id/relationships/tags", counted)
	return s
}

func (s *testServer) do(method, path, key, body string) *httptest.ResponseRecorder {
	return s.doRequest(httptest.NewRequest(method, path, strings.NewReader(body)), key)
}

func (s *testServer) doRequest(req *http.Request, key string) *httptest.ResponseRecorder {
	if key != "" {
		req.Header.Set(entity.IdempotencyKeyHeader, key)
	}
	req.Header.Set("Content-Type", response.ContentType)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) outcome(name string) float64 {
	return testutil.ToFloat64(s.metrics.requests.WithLabelValues(name))
}

// createThing echoes the request body as a created resource at /things/42.
func createThing(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Location", "/things/42")
	c.Data(http.StatusCreated, response.ContentType, []byte(`{"data":{"type":"things","id":"42","attributes":`+string(body)+`}}`))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorObject {
	t.Helper()
	assert.Equal(t, response.ContentType, w.Header().Get("Content-Type"))
	var doc response.ErrorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Errors, 1)
	return doc.Errors[0]
}

func TestIdempotency_CreateThenReplay(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), createThing, nil)

	first := s.do(http.MethodPost, "/api/v1/things", `"abc-1"`, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "/things/42", first.Header().Get("Location"))

	second := s.do(http.MethodPost, "/api/v1/things", `"abc-1"`, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "/things/42", second.Header().Get("Location"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))
	assert.Equal(t, `"abc-1"`, second.Header().Get(entity.IdempotencyKeyHeader))

	assert.Equal(t, int32(1), s.calls.Load(), "handler runs once")
	assert.Equal(t, 1.0, s.outcome(OutcomeExecuted))
	assert.Equal(t, 1.0, s.outcome(OutcomeReplayed))
}

func TestIdempotency_PatchIsCovered(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), func(c *gin.Context) {
		c.Data(http.StatusOK, response.ContentType, []byte(`{"data":{"id":"`+c.Param("id")+`"}}`))
	}, nil)

	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPatch, "/api/v1/things/7", `"p-1"`, `{"title":"y"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"id":"7"}}`, w.Body.String())
	}
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestIdempotency_FingerprintConflict(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), createThing, nil)

	first := s.do(http.MethodPost, "/api/v1/things", `"k"`, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	t.Run("different body", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/v1/things", `"k"`, `{"title":"y"}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		e := decodeError(t, w)
		assert.Equal(t, "422", e.Status)
		assert.Equal(t, "Invalid idempotency key.", e.Title)
		assert.Equal(t, "The provided idempotency key is in use for another request.", e.Detail)
		require.NotNil(t, e.Source)
		assert.Equal(t, entity.IdempotencyKeyHeader, e.Source.Header)
	})

	t.Run("different url", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/v1/things?include=tags", `"k"`, `{"title":"x"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	again := s.do(http.MethodPost, "/api/v1/things", `"k"`, `{"title":"x"}`)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, first.Body.String(), again.Body.String(), "original response is untouched")
	assert.Equal(t, int32(1), s.calls.Load())
	assert.Equal(t, 2.0, s.outcome(OutcomeConflict))
}

func TestIdempotency_KeyValidation(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), createThing, nil)

	t.Run("malformed", func(t *testing.T) {
		for _, key := range []string{"abc123", `""`, `"abc`} {
			w := s.do(http.MethodPost, "/api/v1/things", key, `{}`)
			require.Equal(t, http.StatusBadRequest, w.Code, key)
			e := decodeError(t, w)
			assert.Contains(t, e.Title, "Invalid idempotency key")
			assert.Contains(t, e.Detail, "double quotes")
			assert.Equal(t, entity.IdempotencyKeyHeader, e.Source.Header)
		}
	})

	t.Run("missing", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/v1/things", "", `{}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		e := decodeError(t, w)
		assert.Equal(t, "Missing idempotency key.", e.Title)
		assert.Contains(t, e.Detail, "Idempotency-Key")
	})

	assert.Equal(t, int32(0), s.calls.Load())
	assert.Equal(t, 4.0, s.outcome(OutcomeRejected))
}

func TestIdempotency_Disabled(t *testing.T) {
	for name, store := range map[string]repository.IdempotencyStore{
		"no store":       nil,
		"disabled store": infraRepo.NewNoIdempotencyStore(),
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, store, createThing, nil)

			w := s.do(http.MethodPost, "/api/v1/things", `"abc-1"`, `{"title":"x"}`)
			require.Equal(t, http.StatusBadRequest, w.Code)
			e := decodeError(t, w)
			assert.Equal(t, "Idempotency is currently disabled.", e.Detail)
			assert.Equal(t, int32(0), s.calls.Load())

			w = s.do(http.MethodPost, "/api/v1/things", "", `{"title":"x"}`)
			assert.Equal(t, http.StatusCreated, w.Code)
			assert.Equal(t, int32(1), s.calls.Load())
		})
	}
}

func TestIdempotency_UnsupportedPassesThrough(t *testing.T) {
	var sawBuffered atomic.Bool
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), func(c *gin.Context) {
		if _, ok := c.Request.Body.(bodybuffer.Body); ok {
			sawBuffered.Store(true)
		}
		c.Status(http.StatusNoContent)
	}, nil)

	w := s.do(http.MethodGet, "/api/v1/things", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodPost, "/api/v1/things/1/relationships/tags", "", `{"data":[]}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get(entity.IdempotencyKeyHeader))

	assert.False(t, sawBuffered.Load())
	assert.Equal(t, int32(2), s.calls.Load())
	assert.Equal(t, 2.0, s.outcome(OutcomePassthrough))
}

func TestIdempotency_ConcurrentFirstRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), func(c *gin.Context) {
		once.Do(func() { close(entered) })
		<-release
		createThing(c)
	}, nil)

	firstDone := make(chan *httptest.ResponseRecorder)
	go func() {
		firstDone <- s.do(http.MethodPost, "/api/v1/things", `"race"`, `{"title":"x"}`)
	}()
	<-entered

	second := s.do(http.MethodPost, "/api/v1/things", `"race"`, `{"title":"x"}`)
	require.Equal(t, http.StatusConflict, second.Code)
	e := decodeError(t, second)
	assert.Equal(t, "Failed to create idempotency key.", e.Title)

	close(release)
	first := <-firstDone
	require.Equal(t, http.StatusCreated, first.Code)

	third := s.do(http.MethodPost, "/api/v1/things", `"race"`, `{"title":"x"}`)
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, first.Body.String(), third.Body.String())
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestIdempotency_ConcurrentBurstExecutesOnce(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), createThing, nil)

	const n = 20
	var wg sync.WaitGroup
	codes := make([]int, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			codes[i] = s.do(http.MethodPost, "/api/v1/things", `"burst"`, `{"title":"x"}`).Code
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), s.calls.Load())
	for _, code := range codes {
		assert.Contains(t, []int{http.StatusCreated, http.StatusConflict}, code)
	}
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	store := infraRepo.NewMemoryIdempotencyStore()
	var fail atomic.Bool
	fail.Store(true)

	s := newTestServer(t, store, func(c *gin.Context) {
		if fail.Load() {
			panic("handler exploded")
		}
		createThing(c)
	}, nil)

	w := s.do(http.MethodPost, "/api/v1/things", `"p"`, `{"title":"x"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	cached, err := store.GetResponseFromCache(context.Background(), "p")
	require.NoError(t, err)
	assert.Nil(t, cached, "nothing is cached for a panicking handler")

	fail.Store(false)
	w = s.do(http.MethodPost, "/api/v1/things", `"p"`, `{"title":"x"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestIdempotency_HandlerErrorResponseIsCached(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), func(c *gin.Context) {
		response.Error(c, apperror.NewUnprocessableError("Validation failed",
			apperror.FieldError{Field: "title", Message: "Title must not be blank"}))
	}, nil)

	first := s.do(http.MethodPost, "/api/v1/things", `"bad"`, `{"title":""}`)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code)

	second := s.do(http.MethodPost, "/api/v1/things", `"bad"`, `{"title":""}`)
	require.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestIdempotency_EmptyResponseIsCached(t *testing.T) {
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	}, nil)

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPatch, "/api/v1/things/1", `"e"`, `{}`)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	}
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestIdempotency_LargeBodySpills(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/spill", 0o755))
	pool := bodybuffer.NewPool(bodybuffer.WithThreshold(64), bodybuffer.WithFs(fs), bodybuffer.WithTempDir("/spill"))

	var spilled atomic.Bool
	s := newTestServer(t, infraRepo.NewMemoryIdempotencyStore(), func(c *gin.Context) {
		if entries, _ := afero.ReadDir(fs, "/spill"); len(entries) == 1 {
			spilled.Store(true)
		}
		createThing(c)
	}, pool)

	big := `{"title":"` + strings.Repeat("x", 4096) + `"}`
	first := s.do(http.MethodPost, "/api/v1/things", `"big"`, big)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Contains(t, first.Body.String(), big, "handler sees the whole body")
	assert.True(t, spilled.Load())

	second := s.do(http.MethodPost, "/api/v1/things", `"big"`, big)
	assert.Equal(t, first.Body.String(), second.Body.String())

	conflict := s.do(http.MethodPost, "/api/v1/things", `"big"`, big[:len(big)-2]+`y"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, conflict.Code)

	entries, err := afero.ReadDir(fs, "/spill")
	require.NoError(t, err)
	assert.Empty(t, entries, "spill files are removed after each request")
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestIdempotency_CancelledRequestIsNotCached(t *testing.T) {
	store := infraRepo.NewMemoryIdempotencyStore()
	ctx, cancel := context.WithCancel(context.Background())

	s := newTestServer(t, store, func(c *gin.Context) {
		cancel()
		createThing(c)
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/things", strings.NewReader(`{"title":"x"}`)).WithContext(ctx)
	s.doRequest(req, `"c"`)

	cached, err := store.GetResponseFromCache(context.Background(), "c")
	require.NoError(t, err)
	assert.Nil(t, cached)

	tx, err := store.BeginRequest(context.Background(), "c", "fp")
	require.NoError(t, err, "claim was released")
	require.NoError(t, tx.Dispose())
	assert.Equal(t, 1.0, s.outcome(OutcomeFailed))
}

type faultyStore struct {
	repository.IdempotencyStore
	lookupErr   error
	completeErr error
}

func (f *faultyStore) GetResponseFromCache(ctx context.Context, key string) (*entity.CachedResponse, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.IdempotencyStore.GetResponseFromCache(ctx, key)
}

func (f *faultyStore) CompleteRequest(ctx context.Context, key string, resp *entity.CachedResponse, tx repository.Transaction) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	return f.IdempotencyStore.CompleteRequest(ctx, key, resp, tx)
}

func TestIdempotency_StoreLookupFailure(t *testing.T) {
	store := &faultyStore{
		IdempotencyStore: infraRepo.NewMemoryIdempotencyStore(),
		lookupErr:        errors.New("connection refused"),
	}
	s := newTestServer(t, store, createThing, nil)

	w := s.do(http.MethodPost, "/api/v1/things", `"f"`, `{}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "Failed to process idempotency key.", e.Detail)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, int32(0), s.calls.Load())
}

func TestIdempotency_PersistFailureKeepsResponse(t *testing.T) {
	inner := infraRepo.NewMemoryIdempotencyStore()
	store := &faultyStore{IdempotencyStore: inner, completeErr: errors.New("disk full")}
	s := newTestServer(t, store, createThing, nil)

	w := s.do(http.MethodPost, "/api/v1/things", `"pf"`, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/things/42", w.Header().Get("Location"))
	assert.Equal(t, 1.0, s.outcome(OutcomeFailed))

	tx, err := inner.BeginRequest(context.Background(), "pf", "fp")
	require.NoError(t, err, "claim was disposed")
	require.NoError(t, tx.Dispose())
}

func TestCanonicalURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/things?a=1", nil)
	assert.Equal(t, "http://example.com/api/v1/things?a=1", canonicalURL(r))

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://example.com/api/v1/things?a=1", canonicalURL(r))
}
