package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attend/internal/api/handlers"
	"github.com/your-org/attend/internal/api/ws"
	"github.com/your-org/attend/internal/auth"
	"github.com/your-org/attend/internal/ledger"
)

type RouterConfig struct {
	APIKey     string
	Enrollment handlers.Enrollment
	Sessions   handlers.SessionController
	Ledger     *ledger.Ledger
	// Snapshots is nil when object storage is disabled.
	Snapshots handlers.SnapshotClearer
	Checks    map[string]handlers.Check
	Hub       *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Identities
	idH := handlers.NewIdentityHandler(cfg.Enrollment)
	v1.POST("/identities", idH.Enroll)
	v1.GET("/identities", idH.List)
	v1.DELETE("/identities", idH.Clear)
	v1.GET("/identities/:id", idH.Get)
	v1.PATCH("/identities/:id", idH.Update)
	v1.PUT("/identities/:id/face", idH.ReplaceFace)
	v1.DELETE("/identities/:id", idH.Delete)

	// Session
	sessionH := handlers.NewSessionHandler(cfg.Sessions)
	v1.POST("/session/start", sessionH.Start)
	v1.POST("/session/stop", sessionH.Stop)
	v1.POST("/session/cancel", sessionH.Cancel)
	v1.GET("/session", sessionH.Status)
	v1.GET("/session/preview", sessionH.Preview)

	// Disambiguation
	v1.GET("/resolutions", sessionH.ListResolutions)
	v1.POST("/resolutions/:id", sessionH.Resolve)

	// Ledger
	checkinH := handlers.NewCheckInHandler(cfg.Ledger, cfg.Snapshots)
	v1.GET("/checkins", checkinH.List)
	v1.GET("/checkins/unchecked", checkinH.Unchecked)
	v1.GET("/checkins/export", checkinH.Export)
	v1.DELETE("/checkins", checkinH.Clear)

	return r
}
