// Package api wires the HTTP surface of the indicator engine.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"meter-indicators/internal/api/handlers"
	"meter-indicators/internal/api/middleware"
	"meter-indicators/internal/indicator"
	"meter-indicators/internal/observability"
	"meter-indicators/internal/queue"
)

// Deps are the collaborators of the router. Enqueuer and Metrics may be nil.
type Deps struct {
	Runner   queue.Runner
	Store    indicator.IndicatorStore
	Devices  indicator.DeviceDirectory
	Enqueuer handlers.Enqueuer
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	AllowedOrigins []string
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.ErrorHandler(d.Logger))
	router.Use(middleware.CORS(d.AllowedOrigins...))
	router.Use(middleware.Logger(d.Logger, d.Metrics))

	indicators := handlers.NewIndicatorHandler(d.Runner, d.Store, d.Enqueuer, d.Logger)
	devices := handlers.NewDeviceHandler(d.Devices)

	router.GET("/health", func(c *gin.Context) {
		if p, ok := d.Store.(pinger); ok {
			if err := p.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs/daily", indicators.RunDaily)
		v1.POST("/jobs/monthly", indicators.RunMonthly)
		v1.POST("/jobs/daily-range", indicators.RunRange)

		v1.GET("/indicators", indicators.ListIndicators)
		v1.GET("/devices", devices.ListDevices)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return router
}
