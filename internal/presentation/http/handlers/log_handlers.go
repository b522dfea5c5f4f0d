package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// LogHandlers exposes live log streaming and runtime log levels.
type LogHandlers struct {
	logger *logging.ChanneledLogger
	stream *logging.LogStream
}

// NewLogHandlers creates log handlers. stream may be nil when log streaming
// is disabled.
func NewLogHandlers(logger *logging.ChanneledLogger, stream *logging.LogStream) *LogHandlers {
	return &LogHandlers{logger: logger, stream: stream}
}

// StreamLogs handles GET /api/v1/logs/stream?channel=&level=
func (h *LogHandlers) StreamLogs(c *gin.Context) {
	if h.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log streaming not available"})
		return
	}
	channel, ok := logging.ParseChannel(c.Query("channel"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	level, err := logging.ParseLevel(c.DefaultQuery("level", "info"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client := h.stream.Subscribe(logging.StreamFilter{Channel: channel, Level: level})
	defer h.stream.Unsubscribe(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(c.Writer, ": connection established\n\n")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case record, ok := <-client.C:
			if !ok {
				return false
			}
			c.SSEvent("log", record)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetLogLevels handles GET /api/v1/logs/levels
func (h *LogHandlers) GetLogLevels(c *gin.Context) {
	levels := make(map[string]string)
	for channel, level := range h.logger.Levels() {
		levels[string(channel)] = level.String()
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}

// SetLogLevel handles POST /api/v1/logs/levels with {"channel": "", "level": ""}.
// An empty or "all" channel changes every channel.
func (h *LogHandlers) SetLogLevel(c *gin.Context) {
	var request struct {
		Channel string `json:"channel"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level is required"})
		return
	}

	channel, ok := logging.ParseChannel(request.Channel)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	level, err := logging.ParseLevel(request.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if channel == "" {
		h.logger.SetLevel(level)
	} else {
		h.logger.SetChannelLevel(channel, level)
	}
	h.logger.System().Info("Log level changed", "channel", request.Channel, "level", level.String())
	c.JSON(http.StatusOK, gin.H{"channel": request.Channel, "level": level.String()})
}
