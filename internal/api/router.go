// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/calligrapher/internal/config"
	"github.com/Corphon/calligrapher/internal/di"
	"github.com/Corphon/calligrapher/internal/services"
	"github.com/Corphon/calligrapher/internal/utils"
)

// SetupRouter builds the gin engine for the preview API.
func SetupRouter(container *di.Container, hub *Hub, root string) (*gin.Engine, error) {
	preview, err := di.Resolve[*services.PreviewService](container, di.ServicePreview)
	if err != nil {
		return nil, fmt.Errorf("preview service not initialized: %w", err)
	}
	metrics, err := di.Resolve[*utils.MetricsCollector](container, di.ServiceMetrics)
	if err != nil {
		return nil, fmt.Errorf("metrics collector not initialized: %w", err)
	}
	cfg, err := di.Resolve[*config.Config](container, di.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("config not initialized: %w", err)
	}

	handler := NewHandler(preview, hub, root)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogMiddleware(utils.GetLogger(), metrics))
	r.Use(corsMiddleware())

	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", hub.ServeWS)

	// ===============================
	// api
	// ===============================
	api := r.Group("/api")
	if cfg.ServeRateLimit > 0 {
		api.Use(NewRateLimiter(cfg.ServeRateLimit, time.Minute).Middleware())
	}
	{
		sessions := api.Group("/sessions")
		{
			sessions.GET("", handler.ListSessions)
			sessions.POST("", handler.StartSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.CloseSession)
			sessions.POST("/:id/choose", handler.Choose)
		}
	}

	return r, nil
}
