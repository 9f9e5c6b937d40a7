// Package httpapi wires Gin to the code generation and run history
// services and owns the middleware chain in front of them.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/nocodb-codegen/internal/config"
	"github.com/tbourn/nocodb-codegen/internal/http/handlers"
	"github.com/tbourn/nocodb-codegen/internal/http/middleware"
)

// maxBodyBytes caps request bodies. Every route is a GET, so anything large
// is either a mistake or abuse.
const maxBodyBytes = 64 << 10

// RunStore is the run history surface the router needs: the read side for
// the /runs endpoints plus the lookup behind Idempotency-Key replays.
type RunStore interface {
	handlers.RunReader
	Exists(ctx context.Context, tableID, key string, since time.Time) (bool, error)
}

// Deps are the services mounted by RegisterRoutes.
type Deps struct {
	Codes   handlers.CodeGenerator
	Runs    RunStore
	Version string
}

// RegisterRoutes mounts the middleware chain and the endpoints on r.
//
// Tracing, request IDs, the access logger and recovery come first so every
// later failure is traced, correlated and logged. /metrics is registered
// right after the Metrics middleware, ahead of compression, replay detection
// and rate limiting, so scrapes are never throttled. The idempotency check
// runs before the limiter because replays are exempt from it.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics(),
	)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(
		gzip.Gzip(gzip.DefaultCompression),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			replayLookup(deps.Runs, cfg.IdempotencyTTL),
		),
		middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP()).Handler(),
	)
	r.Use(corsHandlers(cfg.CORS)...)
	// Batch results are never cached; run history revalidates via ETag.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		Revalidate:   []string{"/runs", "/runs/:id"},
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(deps.Codes, deps.Runs, handlers.Info{Version: deps.Version, MaxLimit: cfg.MaxLimit})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/", h.Info)
	r.GET("/generate-codes", h.GenerateCodes)
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
}

// corsHandlers allows any origin when none are configured, otherwise only
// the listed ones. The explicit header writes make plain GETs without an
// Origin (automation scripts, health checks) see the same policy.
func corsHandlers(cc config.CORSConfig) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag"},
		MaxAge:        12 * time.Hour,
	}

	if len(cc.AllowedOrigins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Header("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]bool, len(cc.AllowedOrigins))
	for _, o := range cc.AllowedOrigins {
		allowed[o] = true
	}
	base.AllowOrigins = cc.AllowedOrigins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(base),
	}
}

// replayLookup adapts the run history to middleware.IdempotencyLookup. A key
// is replayable while its succeeded run is younger than ttl.
func replayLookup(runs RunStore, ttl time.Duration) middleware.IdempotencyLookup {
	if runs == nil {
		return nil
	}
	return func(ctx context.Context, tableID, key string, now time.Time) (bool, error) {
		return runs.Exists(ctx, tableID, key, now.Add(-ttl))
	}
}

// limitBody wraps the body so reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
