package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sangkips/idempotency-api/internal/config"
	"github.com/sangkips/idempotency-api/internal/presentation/http/handler"
	"github.com/sangkips/idempotency-api/internal/presentation/http/middleware"
)

// APIBasePath prefixes every versioned route
const APIBasePath = "/api/v1"

// Handlers holds all the HTTP handlers used for route registration.
type Handlers struct {
	Thing *handler.ThingHandler
}

// Deps holds shared dependencies needed by the routes.
type Deps struct {
	Cfg         *config.Config
	Logger      *slog.Logger
	Idempotency middleware.IdempotencyConfig
	// RateLimiter is optional
	RateLimiter *middleware.ClientRateLimiter
	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// Setup creates the Gin router and registers all routes.
func Setup(h *Handlers, deps *Deps) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(deps.Logger))
	router.Use(middleware.CORSMiddleware(&deps.Cfg.CORS))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     deps.Cfg.App.Name,
			"idempotency": deps.Cfg.Idempotency.Backend,
		})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := router.Group(APIBasePath)
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	// Idempotency runs after rate limiting so rejected requests never claim a key
	v1.Use(middleware.Idempotency(deps.Idempotency))
	{
		registerThingRoutes(v1, h)
	}

	return router
}

func registerThingRoutes(v1 *gin.RouterGroup, h *Handlers) {
	things := v1.Group("/things")
	{
		things.GET("", h.Thing.List)
		things.POST("", h.Thing.Create)
		things.GET("/:id", h.Thing.Get)
		things.PATCH("/:id", h.Thing.Update)
		things.POST("/:id/relationships/tags", h.Thing.AddTags)
	}
}
