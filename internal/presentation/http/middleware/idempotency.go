package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	"github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/internal/infrastructure/logger"
	infraRepo "github.com/sangkips/idempotency-api/internal/infrastructure/repository"
	"github.com/sangkips/idempotency-api/internal/presentation/http/dto/response"
	"github.com/sangkips/idempotency-api/pkg/apperror"
	"github.com/sangkips/idempotency-api/pkg/bodybuffer"
	"github.com/sangkips/idempotency-api/pkg/fingerprint"
)

const (
	invalidKeyTitle = "Invalid idempotency key."
	missingKeyTitle = "Missing idempotency key."

	missingKeyDetail = "An idempotency key is a unique value generated by the client which the server uses to recognize subsequent retries of the same request. " +
		"Send it in the Idempotency-Key header as a non-empty value surrounded by double quotes."
)

// IdempotencyConfig holds configuration for the idempotency middleware
type IdempotencyConfig struct {
	// Store decides which requests are covered and holds cached responses.
	// Nil disables idempotency.
	Store         repository.IdempotencyStore
	Fingerprinter fingerprint.Generator
	BufferPool    *bodybuffer.Pool
	Metrics       *IdempotencyMetrics
	Logger        *slog.Logger
}

type idempotency struct {
	store         repository.IdempotencyStore
	disabled      bool
	fingerprinter fingerprint.Generator
	pool          *bodybuffer.Pool
	metrics       *IdempotencyMetrics
	log           *slog.Logger
}

// Idempotency makes covered write requests safe to retry. The first request
// for a key runs the handler and stores its response; later requests with
// the same key and the same URL and body get that response replayed without
// running the handler again.
func Idempotency(config IdempotencyConfig) gin.HandlerFunc {
	m := &idempotency{
		store:         config.Store,
		fingerprinter: config.Fingerprinter,
		pool:          config.BufferPool,
		metrics:       config.Metrics,
		log:           config.Logger,
	}
	if m.store == nil {
		m.store = infraRepo.NewNoIdempotencyStore()
	}
	_, m.disabled = m.store.(*infraRepo.NoIdempotencyStore)
	if m.fingerprinter == nil {
		m.fingerprinter = fingerprint.New()
	}
	if m.pool == nil {
		m.pool = bodybuffer.NewPool()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m.handle
}

func (m *idempotency) handle(c *gin.Context) {
	key := readIdempotencyKey(c.Request)

	if m.disabled {
		if key.State != KeyAbsent {
			m.reject(c, errIdempotencyDisabled(), OutcomeRejected)
			return
		}
		m.metrics.observe(OutcomePassthrough)
		c.Next()
		return
	}

	if !m.store.IsSupported(c.Request) {
		m.metrics.observe(OutcomePassthrough)
		c.Next()
		return
	}

	switch key.State {
	case KeyAbsent:
		m.reject(c, errMissingKey(), OutcomeRejected)
		return
	case KeyMalformed:
		m.reject(c, errMalformedKey(), OutcomeRejected)
		return
	}

	m.process(c, key.Key)
}

// process runs the buffer, fingerprint, lookup, claim, execute and persist
// steps for a request carrying a valid key.
func (m *idempotency) process(c *gin.Context, key string) {
	ctx := c.Request.Context()
	log := logger.From(ctx, m.log).With(slog.String("idempotency_key", key))

	body, err := m.pool.Buffer(ctx, c.Request.Body)
	if err != nil {
		m.reject(c, apperror.NewBadRequestError("Failed to read request body.").Wrap(err), OutcomeFailed)
		return
	}
	defer func() {
		if err := body.Close(); err != nil {
			log.Warn("failed to release request body buffer", slog.Any("error", err))
		}
	}()
	c.Request.Body = body
	c.Request.ContentLength = body.Size()

	text, err := body.Text()
	if err != nil {
		m.fail(c, log, err)
		return
	}
	fp := m.fingerprinter.Generate(canonicalURL(c.Request), text)

	cached, err := m.store.GetResponseFromCache(ctx, key)
	if err != nil {
		m.fail(c, log, err)
		return
	}
	if cached != nil {
		if cached.RequestFingerprint != fp {
			m.reject(c, errFingerprintConflict(), OutcomeConflict)
			return
		}
		replay(c, key, cached)
		m.metrics.observe(OutcomeReplayed)
		log.Debug("replayed cached response", slog.Int("status", cached.StatusCode))
		return
	}

	tx, err := m.store.BeginRequest(ctx, key, fp)
	if err != nil {
		m.fail(c, log, err)
		return
	}
	defer func() {
		if err := tx.Dispose(); err != nil {
			log.Error("failed to release idempotency key", slog.Any("error", err))
		}
	}()

	res := captureResponse(c)

	if err := ctx.Err(); err != nil {
		log.Warn("request cancelled, response not cached", slog.Any("error", err))
		m.metrics.observe(OutcomeFailed)
		return
	}

	cachedResp := &entity.CachedResponse{
		RequestFingerprint: fp,
		StatusCode:         res.Status,
		LocationHeader:     res.Header.Get("Location"),
		ContentTypeHeader:  res.Header.Get("Content-Type"),
		Body:               string(res.Body),
	}
	if err := m.store.CompleteRequest(ctx, key, cachedResp, tx); err != nil {
		// The client already has the handler's response.
		log.Error("failed to store idempotent response", slog.Any("error", err))
		_ = c.Error(err)
		m.metrics.observe(OutcomeFailed)
		return
	}
	m.metrics.observe(OutcomeExecuted)
}

// replay writes a cached response and stops the handler chain
func replay(c *gin.Context, key string, cached *entity.CachedResponse) {
	h := c.Writer.Header()
	h.Set(entity.IdempotencyKeyHeader, quoteKey(key))
	if cached.LocationHeader != "" {
		h.Set("Location", cached.LocationHeader)
	}
	if cached.ContentTypeHeader != "" {
		h.Set("Content-Type", cached.ContentTypeHeader)
	}
	c.Status(cached.StatusCode)
	c.Writer.WriteHeaderNow()
	if cached.Body != "" {
		_, _ = c.Writer.WriteString(cached.Body)
	}
	c.Abort()
}

func (m *idempotency) reject(c *gin.Context, appErr *apperror.AppError, outcome string) {
	m.metrics.observe(outcome)
	response.AbortWithError(c, appErr)
}

// fail renders a store or buffering error. Errors that are not already
// AppErrors are hidden behind a generic 500.
func (m *idempotency) fail(c *gin.Context, log *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		log.Error("idempotency store failure", slog.Any("error", err))
		_ = c.Error(err)
		appErr = apperror.NewInternalError("Failed to process idempotency key.", err).
			WithHeader(entity.IdempotencyKeyHeader)
	}

	outcome := OutcomeFailed
	if appErr.Code == http.StatusConflict {
		outcome = OutcomeConflict
	}
	m.reject(c, appErr, outcome)
}

// canonicalURL is the absolute URL used in the request fingerprint
func canonicalURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func errIdempotencyDisabled() *apperror.AppError {
	return apperror.NewBadRequestError("Idempotency is currently disabled.").
		WithTitle(invalidKeyTitle).
		WithHeader(entity.IdempotencyKeyHeader)
}

func errMissingKey() *apperror.AppError {
	return apperror.NewBadRequestError(missingKeyDetail).
		WithTitle(missingKeyTitle).
		WithHeader(entity.IdempotencyKeyHeader)
}

func errMalformedKey() *apperror.AppError {
	return apperror.NewBadRequestError("Expected non-empty value surrounded by double quotes.").
		WithTitle(invalidKeyTitle).
		WithHeader(entity.IdempotencyKeyHeader)
}

func errFingerprintConflict() *apperror.AppError {
	return apperror.NewUnprocessableError("The provided idempotency key is in use for another request.").
		WithTitle(invalidKeyTitle).
		WithHeader(entity.IdempotencyKeyHeader)
}
