package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/taskhubdev/taskhub/internal/auth"
	"github.com/taskhubdev/taskhub/internal/cache"
	"github.com/taskhubdev/taskhub/internal/config"
	"github.com/taskhubdev/taskhub/internal/domain/user"
	"github.com/taskhubdev/taskhub/internal/http/handlers"
	"github.com/taskhubdev/taskhub/internal/http/middlewares"
	"github.com/taskhubdev/taskhub/internal/observability"
	"github.com/taskhubdev/taskhub/internal/repo/postgres"
)

const maxBodyBytes = 1 << 20 // 1 MiB request cap

// NewRouter wires repositories, handlers and the middleware chain.
// redisClient may be nil; the auth rate limiter then falls back to the
// in-process window.
func NewRouter(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())
	r.Use(otelgin.Middleware("taskhub-api"))
	r.Use(prom.GinHandleMiddleware())

	// health
	ping := func(ctx context.Context) error {
		if pool == nil {
			return nil
		}

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	todosRepo := postgres.NewTodosRepo(pool, prom)
	refreshRepo := postgres.NewRefreshTokensRepo(pool)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	jwtManager := auth.NewManagerFromConfig(cfg)
	listCache := cache.New(30 * time.Second)

	authMw := middlewares.NewAuthMiddleware(jwtManager, usersRepo)

	// handlers
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, jwtManager, refreshRepo, jobsRepo, prom, cfg)
	todosHandler := handlers.NewTodosHandler(todosRepo, listCache, jobsRepo)
	adminHandler := handlers.NewAdminUsersHandler(usersRepo, refreshRepo)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(authRateLimiter(cfg, redisClient))
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/refresh", authHandler.Refresh)
	authGroup.POST("/logout", authHandler.Logout)

	todosGroup := api.Group("/todos")
	todosGroup.Use(authMw.RequireAuth())
	todosGroup.GET("", todosHandler.List)
	todosGroup.POST("", todosHandler.Add)
	todosGroup.DELETE("/completed", todosHandler.ClearCompleted)
	todosGroup.POST("/export", todosHandler.Export)
	todosGroup.PUT("/:id", todosHandler.Toggle)
	todosGroup.DELETE("/:id", todosHandler.Delete)

	adminGroup := api.Group("/admin")
	adminGroup.Use(authMw.RequireAuth(), authMw.RequireRole(user.RoleAdmin))
	adminGroup.GET("/users", adminHandler.ListUsers)
	adminGroup.PATCH("/users/:id/block", adminHandler.SetBlocked)

	return r
}

// authRateLimiter prefers the shared redis window so that all API
// replicas count against the same budget.
func authRateLimiter(cfg config.Config, redisClient *redis.Client) gin.HandlerFunc {
	if redisClient != nil {
		rl := middlewares.NewRedisRateLimiter(redisClient, "auth", cfg.AuthRateLimit, cfg.AuthRateWindow)

		return rl.RateLimiterMiddleware(middlewares.KeyByIP)
	}

	rl := middlewares.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow)

	return rl.RateLimiterMiddleware(middlewares.KeyByIP)
}
