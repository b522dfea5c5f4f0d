// Package handlers provides HTTP handlers for the presentation layer.
package handlers

import (
	"errors"
	"net/http"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/services"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/analytics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// TelemetryHandlers exposes capture, reporting and lifecycle over HTTP.
type TelemetryHandlers struct {
	telemetry *services.TelemetryService
	logger    *logging.ChanneledLogger
}

// NewTelemetryHandlers creates telemetry handlers with injected dependencies
func NewTelemetryHandlers(telemetry *services.TelemetryService, logger *logging.ChanneledLogger) *TelemetryHandlers {
	return &TelemetryHandlers{telemetry: telemetry, logger: logger}
}

// accepted is returned by the capture endpoints. Capture never reports
// rejection to the caller; CanTrack tells whether the gate was open.
func (h *TelemetryHandlers) accepted(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"canTrack": h.telemetry.ConsentStatus().CanTrack,
	})
}

// HandleTrackRating handles POST /api/v1/telemetry/ratings
func (h *TelemetryHandlers) HandleTrackRating(c *gin.Context) {
	var input telemetry.RatingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rating payload"})
		return
	}
	h.telemetry.TrackRating(input)
	h.accepted(c)
}

// HandleTrackFeedback handles POST /api/v1/telemetry/feedback
func (h *TelemetryHandlers) HandleTrackFeedback(c *gin.Context) {
	var input telemetry.FeedbackInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback payload"})
		return
	}
	h.telemetry.TrackFeedback(input)
	h.accepted(c)
}

// HandleTrackPerformance handles POST /api/v1/telemetry/metrics
func (h *TelemetryHandlers) HandleTrackPerformance(c *gin.Context) {
	var input telemetry.MetricInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metric payload"})
		return
	}
	h.telemetry.TrackPerformance(input)
	h.accepted(c)
}

// HandleReport handles GET /api/v1/telemetry/report?start=&end=
func (h *TelemetryHandlers) HandleReport(c *gin.Context) {
	dr, err := analytics.ParseDateRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.telemetry.GenerateReport(dr))
}

// HandleExport handles GET /api/v1/telemetry/export
func (h *TelemetryHandlers) HandleExport(c *gin.Context) {
	c.JSON(http.StatusOK, h.telemetry.ExportData())
}

// HandleClear handles DELETE /api/v1/telemetry/data
func (h *TelemetryHandlers) HandleClear(c *gin.Context) {
	h.telemetry.ClearData()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// HandleFlush handles POST /api/v1/telemetry/flush
func (h *TelemetryHandlers) HandleFlush(c *gin.Context) {
	if err := h.telemetry.Flush(c.Request.Context()); err != nil {
		h.logger.WithContext(logging.ChannelDispatch, c.Request.Context()).Warn("Manual flush failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   err.Error(),
			"pending": h.telemetry.Pending(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": h.telemetry.Pending()})
}

// HandleLifecycle handles POST /api/v1/telemetry/lifecycle
func (h *TelemetryHandlers) HandleLifecycle(c *gin.Context) {
	var request struct {
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}
	if err := h.telemetry.NotifyLifecycle(request.State); err != nil {
		if errors.Is(err, services.ErrUnknownLifecycleState) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": request.State})
}

// HandleConsent handles GET /api/v1/telemetry/consent
func (h *TelemetryHandlers) HandleConsent(c *gin.Context) {
	c.JSON(http.StatusOK, h.telemetry.ConsentStatus())
}
