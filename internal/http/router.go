package http

import (
	"context"
	"os"
	"time"

	"github.com/applyloop/agent/internal/auth"
	"github.com/applyloop/agent/internal/config"
	"github.com/applyloop/agent/internal/engine"
	"github.com/applyloop/agent/internal/http/handlers"
	"github.com/applyloop/agent/internal/http/middlewares"
	"github.com/applyloop/agent/internal/observability"
	"github.com/applyloop/agent/internal/queue/redisclient"
	"github.com/applyloop/agent/internal/tracker"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires the HTTP surface: health checks, the Workflow Engine
// endpoints, and the Tracker read/retry/admin endpoints, behind the same
// middleware stack and bearer-auth scheme the teacher used for its
// calendar-events API.
func NewRouter(pool *pgxpool.Pool, redis *redisclient.Client, eng *engine.Engine, tr tracker.Tracker, prom *observability.Prom, reg *prometheus.Registry, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("applyloop-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20)) // 1MB max body
	r.Use(middlewares.RequireJSON())
	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}

	readyCheck := func() error {
		if pool != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				return err
			}
		}
		if redis != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := redis.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	healthHandler := handlers.NewHealthHandler(readyCheck)
	workflowHandler := handlers.NewWorkflowHandler(eng)
	trackerHandler := handlers.NewTrackerHandler(tr, eng)

	jwtManager := auth.NewManager(cfg.JWTSecret)
	authMiddleware := middlewares.NewAuthMiddleware(jwtManager)

	rateLimit := cfg.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 10
	}
	startLimiter := middlewares.NewRateLimiter(rateLimit, 1*time.Minute)
	killLimiter := middlewares.NewRateLimiter(rateLimit, 1*time.Minute)

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)
	if os.Getenv("DISABLE_METRICS") == "" && reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	authed := r.Group("/")
	authed.Use(authMiddleware.RequireAuth())

	{
		authed.POST("/workflow/start", startLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), workflowHandler.Start)
		authed.POST("/workflow/kill/:user_id", killLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), workflowHandler.Kill)
		authed.GET("/workflow/status/:user_id", workflowHandler.Status)
		authed.GET("/workflow/stream/:user_id", workflowHandler.Stream)

		authed.GET("/tracker/applications/:user_id", trackerHandler.List)
		authed.POST("/tracker/applications/:user_id/:job_id/retry", trackerHandler.Retry)
	}

	admin := authed.Group("/")
	admin.Use(authMiddleware.RequireRole("admin"))
	{
		admin.DELETE("/tracker/applications/:user_id", trackerHandler.Clear)
	}

	return r
}
