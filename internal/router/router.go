package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-tutor/internal/config"
	"github.com/stemsi/exstem-tutor/internal/handler"
	"github.com/stemsi/exstem-tutor/internal/metrics"
	"github.com/stemsi/exstem-tutor/internal/middleware"
	"github.com/stemsi/exstem-tutor/internal/response"
	"github.com/stemsi/exstem-tutor/internal/session"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	registry *session.Registry,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()
	cookie := middleware.NewCookieOptions(cfg.SessionIdleTTL, cfg.CookieSecure)

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		// The session cookie only travels on credentialed requests.
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", middleware.SessionHeader, "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.MetricsMiddleware())

	// promhttp negotiates its own Content-Encoding, so /metrics sits
	// outside the brotli writer.
	router.GET("/metrics", metrics.PrometheusHandler())

	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Public API ─────────────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.NoStore())
	{
		api.POST("/sessions", limiter.Middleware(), handlers.Session.Start)
		api.GET("/system/stats", handlers.System.StatsSSE)
	}

	// ─── 2. Session Group (cookie or X-Session-ID) ─────────────────────
	sess := api.Group("/session")
	sess.Use(middleware.RequireSession(registry, cookie))
	{
		sess.GET("", handlers.Session.Get)
		sess.POST("/answer", limiter.Middleware(), handlers.Session.SubmitAnswer)
		sess.POST("/next-question", limiter.Middleware(), handlers.Session.NextQuestion)
		sess.POST("/execute", limiter.Middleware(), handlers.Session.ExecuteCode)
		sess.POST("/learning-objectives", limiter.Middleware(), handlers.Session.LearningObjectives)
		sess.DELETE("", handlers.Session.End)
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSession(registry, cookie))
	{
		ws.GET("/session/stream", handlers.WS.SessionStream)
	}

	return router
}
