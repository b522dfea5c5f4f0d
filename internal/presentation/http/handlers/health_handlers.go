package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/services"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by the store connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandlers reports liveness and store reachability.
type HealthHandlers struct {
	telemetry *services.TelemetryService
	store     Pinger
}

// NewHealthHandlers creates health handlers. store may be nil.
func NewHealthHandlers(telemetry *services.TelemetryService, store Pinger) *HealthHandlers {
	return &HealthHandlers{telemetry: telemetry, store: store}
}

// HandleHealth handles GET /health
func (h *HealthHandlers) HandleHealth(c *gin.Context) {
	status := http.StatusOK
	response := gin.H{
		"status":  "ok",
		"pending": h.telemetry.Pending(),
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			response["status"] = "degraded"
			response["store"] = err.Error()
		}
	}
	c.JSON(status, response)
}
