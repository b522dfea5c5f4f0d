package logging

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// LogRecord is the slimmed-down form of a log line sent to stream clients.
type LogRecord struct {
	Time    string `json:"time"`
	Channel string `json:"channel"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// StreamFilter selects which records a client receives. An empty Channel
// matches every channel.
type StreamFilter struct {
	Channel Channel
	Level   slog.Level
}

func (f StreamFilter) matches(channel Channel, level slog.Level) bool {
	return (f.Channel == "" || f.Channel == channel) && level >= f.Level
}

// StreamClient is one live log subscriber.
type StreamClient struct {
	C      chan LogRecord
	filter StreamFilter
}

// LogStream fans JSON log lines out to live subscribers. It is an io.Writer
// meant for LoggerConfig.Writer with JSONFormat enabled; lines that are not
// JSON are ignored. Slow clients miss records rather than block logging.
type LogStream struct {
	mu         sync.RWMutex
	clients    map[*StreamClient]struct{}
	bufferSize int
}

// NewLogStream creates a stream whose clients buffer up to bufferSize records.
func NewLogStream(bufferSize int) *LogStream {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &LogStream{
		clients:    make(map[*StreamClient]struct{}),
		bufferSize: bufferSize,
	}
}

// Write decodes one slog JSON record and forwards it. It never fails.
func (s *LogStream) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}
	record := LogRecord{
		Time:    stringField(raw, slog.TimeKey),
		Channel: stringField(raw, "channel"),
		Level:   stringField(raw, slog.LevelKey),
		Message: stringField(raw, slog.MessageKey),
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(record.Level)); err != nil {
		level = slog.LevelInfo
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if !client.filter.matches(Channel(record.Channel), level) {
			continue
		}
		select {
		case client.C <- record:
		default:
		}
	}
	return len(p), nil
}

// Subscribe registers a client for records matching filter.
func (s *LogStream) Subscribe(filter StreamFilter) *StreamClient {
	client := &StreamClient{C: make(chan LogRecord, s.bufferSize), filter: filter}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	return client
}

// Unsubscribe removes client and closes its channel. Repeated calls are safe.
func (s *LogStream) Unsubscribe(client *StreamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.C)
	}
}

// Clients returns the number of subscribers.
func (s *LogStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ParseChannel maps a channel name onto a Channel. "" and "all" mean every
// channel.
func ParseChannel(name string) (Channel, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "all" {
		return "", true
	}
	for _, channel := range allChannels {
		if string(channel) == name {
			return channel, true
		}
	}
	return "", false
}

// Channels lists every logging channel.
func Channels() []Channel {
	return append([]Channel(nil), allChannels...)
}

func stringField(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}
