// Package messaging provides the in-process event bus and the SSE broadcaster
// built on top of it.
package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
)

const clientBuffer = 10

type subscription struct {
	id      uint64
	handler func(telemetry.Notification)
}

// Bus delivers notifications to synchronous subscribers and to streaming
// clients. It is safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[string][]subscription
	clients     map[string][]chan string // topic -> stream channels
	maxClients  int
	logger      *logging.ChanneledLogger
}

// NewBus creates a bus. maxClients <= 0 removes the stream client limit.
func NewBus(logger *logging.ChanneledLogger, maxClients int) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
		clients:     make(map[string][]chan string),
		maxClients:  maxClients,
		logger:      logger,
	}
}

// Subscribe registers handler for topic. Handlers run on the publishing
// goroutine, outside the bus lock, in registration order.
func (b *Bus) Subscribe(topic string, handler func(telemetry.Notification)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[topic]
			kept := make([]subscription, 0, len(subs))
			for _, s := range subs {
				if s.id != id {
					kept = append(kept, s)
				}
			}
			if len(kept) == 0 {
				delete(b.subscribers, topic)
			} else {
				b.subscribers[topic] = kept
			}
		})
	}
}

// Publish runs the topic's handlers and then fans the notification out to
// stream clients without blocking on slow readers.
func (b *Bus) Publish(n telemetry.Notification) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subscribers[n.Topic]))
	copy(subs, b.subscribers[n.Topic])
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(s, n)
	}
	b.broadcast(n)
}

func (b *Bus) invoke(s subscription, n telemetry.Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.SSE().Error("Panic recovered in bus subscriber", "error", r, "topic", n.Topic)
		}
	}()
	s.handler(n)
}

func (b *Bus) broadcast(n telemetry.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.clients[n.Topic]) == 0 {
		return
	}
	message, err := formatFrame(n)
	if err != nil {
		b.logger.SSE().Error("Failed to encode notification", "error", err, "topic", n.Topic)
		return
	}
	b.logger.SSE().Debug("Broadcasting notification", "message", strings.ReplaceAll(message, "\n", "\\n"), "topic", n.Topic)

	for _, ch := range b.clients[n.Topic] {
		select {
		case ch <- message:
		default:
			b.logger.SSE().Warn("SSE channel full, message dropped", "topic", n.Topic)
		}
	}
}

// formatFrame renders n as one SSE frame.
func formatFrame(n telemetry.Notification) (string, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", n.Topic, payload), nil
}

// AddClient registers a stream client for topic. It returns nil when the
// client limit is reached.
func (b *Bus) AddClient(topic string) chan string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxClients > 0 && b.clientCountLocked() >= b.maxClients {
		b.logger.SSE().Warn("SSE client rejected, connection limit reached", "topic", topic, "limit", b.maxClients)
		return nil
	}
	ch := make(chan string, clientBuffer)
	b.clients[topic] = append(b.clients[topic], ch)
	b.logger.SSE().Debug("SSE client registered", "topic", topic)
	return ch
}

// RemoveClient unregisters and closes ch.
func (b *Bus) RemoveClient(ch chan string, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := b.clients[topic]
	kept := make([]chan string, 0, len(clients))
	for _, client := range clients {
		if client == ch {
			close(ch)
			continue
		}
		kept = append(kept, client)
	}
	if len(kept) == 0 {
		delete(b.clients, topic)
	} else {
		b.clients[topic] = kept
	}
	b.logger.SSE().Debug("SSE client unregistered", "topic", topic)
}

// ClientCount returns the number of registered stream clients.
func (b *Bus) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clientCountLocked()
}

func (b *Bus) clientCountLocked() int {
	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
