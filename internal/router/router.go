package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-kiosk/internal/auth"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/handler"
	"github.com/stemsi/exstem-kiosk/internal/middleware"
	"github.com/stemsi/exstem-kiosk/internal/response"
)

// KioskHandlers groups the handlers served by the device agent.
type KioskHandlers struct {
	Session *handler.SessionHandler
	Device  *handler.DeviceHandler
}

// ProctorHandlers groups the handlers served next to the violation worker.
type ProctorHandlers struct {
	Proctor *handler.ProctorHandler
}

// SetupKioskRouter configures the routes of the device agent.
func SetupKioskRouter(verifier *auth.Verifier, handlers *KioskHandlers, limiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
	router := base(cfg)

	// Health check.
	router.GET("/health", handlers.Device.Health)

	// ─── 1. WebSocket Group (Examinee WS Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireExamineeWSAuth(verifier))
	{
		ws.GET("/schedules/:schedule_id/session", handlers.Session.SessionStream)
	}

	// ─── 2. Device Group (Proctor JWT, Rate Limited) ───────────────────
	device := router.Group("/api/v1/device")
	device.Use(middleware.RequireProctorJWT(verifier), limiter.Middleware())
	{
		device.GET("/queue", handlers.Device.ListQueue)
		device.POST("/queue/replay", handlers.Device.ReplayQueue)
	}

	return router
}

// SetupProctorRouter configures the proctor console routes.
func SetupProctorRouter(verifier *auth.Verifier, handlers *ProctorHandlers, limiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
	router := base(cfg)

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	proctorAPI := router.Group("/api/v1/proctor/schedules/:schedule_id")
	proctorAPI.Use(middleware.RequireProctorJWT(verifier))
	{
		proctorAPI.GET("/monitor", handlers.Proctor.MonitorSSE)
		proctorAPI.GET("/examinees/:examinee_id/violations", handlers.Proctor.ListViolations)
		proctorAPI.POST("/examinees/:examinee_id/kick", limiter.Middleware(), handlers.Proctor.Kick)
	}

	return router
}

func base(cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	return router
}
