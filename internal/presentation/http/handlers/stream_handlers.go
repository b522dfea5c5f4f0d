package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/services"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsSendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware for the HTTP API; the
	// socket only carries aggregate notifications.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandlers pushes bus notifications to dashboards over SSE and
// websockets.
type StreamHandlers struct {
	bus       *messaging.Bus
	telemetry *services.TelemetryService
	heartbeat time.Duration
	logger    *logging.ChanneledLogger
}

// NewStreamHandlers creates stream handlers. heartbeat <= 0 disables SSE
// keep-alive comments.
func NewStreamHandlers(bus *messaging.Bus, telemetry *services.TelemetryService, heartbeat time.Duration, logger *logging.ChanneledLogger) *StreamHandlers {
	return &StreamHandlers{bus: bus, telemetry: telemetry, heartbeat: heartbeat, logger: logger}
}

// HandleStream handles GET /api/v1/telemetry/stream
func (h *StreamHandlers) HandleStream(c *gin.Context) {
	ch := h.bus.AddClient(telemetry.TopicAnalyticsUpdate)
	if ch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many stream connections"})
		return
	}
	defer h.bus.RemoveClient(ch, telemetry.TopicAnalyticsUpdate)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(c.Writer, ": connection established\n\n")
	c.Writer.Flush()

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-ch:
			if !ok {
				return false
			}
			io.WriteString(w, frame)
			return true
		case <-heartbeat:
			fmt.Fprintf(w, ": heartbeat\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// HandleWebSocket handles GET /api/v1/telemetry/ws. The server sends every
// analytics-update notification as JSON; the client may send
// {"state":"hidden"} style lifecycle messages.
func (h *StreamHandlers) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.SSE().Warn("WebSocket upgrade failed", "error", err)
		return
	}

	send := make(chan telemetry.Notification, wsSendBuffer)
	unsubscribe := h.bus.Subscribe(telemetry.TopicAnalyticsUpdate, func(n telemetry.Notification) {
		select {
		case send <- n:
		default:
			h.logger.SSE().Debug("Dropping notification for slow websocket client")
		}
	})
	h.logger.SSE().Debug("WebSocket client connected", "remote", c.Request.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(conn, send, done)
	h.readPump(conn)

	unsubscribe()
	close(done)
}

func (h *StreamHandlers) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.SSE().Warn("WebSocket read failed", "error", err)
			}
			return
		}
		var msg struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(message, &msg); err != nil || msg.State == "" {
			h.logger.SSE().Debug("Ignoring websocket message", "bytes", len(message))
			continue
		}
		if err := h.telemetry.NotifyLifecycle(msg.State); err != nil {
			h.logger.SSE().Debug("Ignoring websocket lifecycle message", "error", err)
		}
	}
}

func (h *StreamHandlers) writePump(conn *websocket.Conn, send <-chan telemetry.Notification, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case n := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
