// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/container"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/tractstack-telemetry/pkg/config"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.RequestID(container.Logger))
	r.Use(middleware.CORSMiddleware(config.CORSOrigins))

	telemetryHandlers := handlers.NewTelemetryHandlers(container.Telemetry, container.Logger)
	streamHandlers := handlers.NewStreamHandlers(
		container.Bus,
		container.Telemetry,
		time.Duration(config.SSEHeartbeatIntervalSeconds)*time.Second,
		container.Logger,
	)
	logHandlers := handlers.NewLogHandlers(container.Logger, container.LogStream)
	healthHandlers := handlers.NewHealthHandlers(container.Telemetry, container.DB)

	r.GET("/health", healthHandlers.HandleHealth)
	r.GET("/metrics", gin.WrapH(container.Metrics.Handler()))

	RegisterTelemetryRoutes(r.Group("/api/v1/telemetry"), telemetryHandlers, streamHandlers)

	logAPI := r.Group("/api/v1/logs")
	{
		logAPI.GET("/stream", logHandlers.StreamLogs)
		logAPI.GET("/levels", logHandlers.GetLogLevels)
		logAPI.POST("/levels", logHandlers.SetLogLevel)
	}

	return r
}

// RegisterTelemetryRoutes mounts the capture, report and stream endpoints.
func RegisterTelemetryRoutes(api *gin.RouterGroup, telemetry *handlers.TelemetryHandlers, streams *handlers.StreamHandlers) {
	// Capture
	api.POST("/ratings", telemetry.HandleTrackRating)
	api.POST("/feedback", telemetry.HandleTrackFeedback)
	api.POST("/metrics", telemetry.HandleTrackPerformance)

	// Local data
	api.GET("/report", telemetry.HandleReport)
	api.GET("/export", telemetry.HandleExport)
	api.DELETE("/data", telemetry.HandleClear)

	// Dispatch and lifecycle
	api.POST("/flush", telemetry.HandleFlush)
	api.POST("/lifecycle", telemetry.HandleLifecycle)
	api.GET("/consent", telemetry.HandleConsent)

	// Live updates
	api.GET("/stream", streams.HandleStream)
	api.GET("/ws", streams.HandleWebSocket)
}
