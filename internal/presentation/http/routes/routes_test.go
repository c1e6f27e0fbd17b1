package routes

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sangkips/idempotency-api/internal/application/service"
	"github.com/sangkips/idempotency-api/internal/config"
	"github.com/sangkips/idempotency-api/internal/domain/entity"
	infraRepo "github.com/sangkips/idempotency-api/internal/infrastructure/repository"
	"github.com/sangkips/idempotency-api/internal/presentation/http/handler"
	"github.com/sangkips/idempotency-api/internal/presentation/http/middleware"
	"github.com/sangkips/idempotency-api/pkg/bodybuffer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := &config.Config{
		App:         config.AppConfig{Name: "idempotency-api"},
		Idempotency: config.IdempotencyConfig{Backend: config.BackendMemory},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return Setup(&Handlers{
		Thing: handler.NewThingHandler(service.NewThingService(infraRepo.NewMemoryThingRepository()), APIBasePath),
	}, &Deps{
		Cfg:    cfg,
		Logger: log,
		Idempotency: middleware.IdempotencyConfig{
			Store:      infraRepo.NewMemoryIdempotencyStore(),
			BufferPool: bodybuffer.NewPool(),
			Metrics:    middleware.NewIdempotencyMetrics(reg),
			Logger:     log,
		},
		RateLimiter: middleware.NewClientRateLimiter(middleware.DefaultRateLimiterConfig()),
		Gatherer:    reg,
	})
}

func send(r http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/vnd.api+json")
	if key != "" {
		req.Header.Set(entity.IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes_RetriedCreateMakesOneThing(t *testing.T) {
	r := newTestRouter(t)
	body := `{"data":{"type":"things","attributes":{"title":"x"}}}`

	first := send(r, http.MethodPost, "/api/v1/things", `"abc-1"`, body)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "/api/v1/things/1", first.Header().Get("Location"))
	assert.NotEmpty(t, first.Header().Get("X-Request-ID"))

	second := send(r, http.MethodPost, "/api/v1/things", `"abc-1"`, body)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "/api/v1/things/1", second.Header().Get("Location"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	list := send(r, http.MethodGet, "/api/v1/things", "", "")
	require.Equal(t, http.StatusOK, list.Code)
	var doc struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &doc))
	assert.Len(t, doc.Data, 1)
}

func TestRoutes_BlankTitleFailureIsReplayed(t *testing.T) {
	r := newTestRouter(t)
	body := `{"data":{"type":"things","attributes":{"title":""}}}`

	first := send(r, http.MethodPost, "/api/v1/things", `"blank"`, body)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code)
	second := send(r, http.MethodPost, "/api/v1/things", `"blank"`, body)
	require.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestRoutes_WritesRequireKey(t *testing.T) {
	r := newTestRouter(t)

	w := send(r, http.MethodPost, "/api/v1/things", "", `{"data":{"type":"things","attributes":{"title":"x"}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusCreated,
		send(r, http.MethodPost, "/api/v1/things", `"t"`, `{"data":{"type":"things","attributes":{"title":"x"}}}`).Code)
	w = send(r, http.MethodPost, "/api/v1/things/1/relationships/tags", "", `{"data":[{"type":"tags","id":"red"}]}`)
	assert.Equal(t, http.StatusOK, w.Code, "relationship endpoints do not take part in idempotency")
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	w := send(r, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"idempotency-api","idempotency":"memory"}`, w.Body.String())

	send(r, http.MethodPost, "/api/v1/things", `"m"`, `{"data":{"type":"things","attributes":{"title":"x"}}}`)

	w = send(r, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `idempotency_requests_total{outcome="executed"} 1`)
}

func TestRoutes_CORSExposesIdempotencyHeaders(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	exposed := w.Header().Get("Access-Control-Expose-Headers")
	assert.Contains(t, exposed, "Idempotency-Key")
	assert.Contains(t, exposed, "Location")
}
