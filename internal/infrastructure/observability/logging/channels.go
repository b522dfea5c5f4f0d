// Package logging provides structured logging channels for the telemetry
// pipeline, one slog.Logger per component.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Channel represents a logical logging channel for different pipeline components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"   // General system operations
	ChannelStartup  Channel = "startup"  // Application startup and initialization
	ChannelShutdown Channel = "shutdown" // Application shutdown and cleanup

	// Pipeline channels
	ChannelCapture  Channel = "capture"  // Event validation and ingestion
	ChannelConsent  Channel = "consent"  // Consent gate and identity
	ChannelStorage  Channel = "storage"  // Durable log and key-value store
	ChannelDispatch Channel = "dispatch" // Batch flushes and collector delivery
	ChannelReport   Channel = "report"   // Report generation

	// Infrastructure channels
	ChannelDatabase Channel = "database" // Database connections and queries
	ChannelSSE      Channel = "sse"      // Server-sent events and websockets

	// Development channels
	ChannelDebug Channel = "debug"
)

var allChannels = []Channel{
	ChannelSystem, ChannelStartup, ChannelShutdown,
	ChannelCapture, ChannelConsent, ChannelStorage, ChannelDispatch, ChannelReport,
	ChannelDatabase, ChannelSSE, ChannelDebug,
}

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	levels   map[Channel]*slog.LevelVar
	files    []*os.File
	config   *LoggerConfig
	mu       sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool   // Whether to write one log file per channel
	OutputToConsole bool   // Whether to write logs to stdout
	LogDirectory    string // Directory for log files
	JSONFormat      bool   // Use JSON format for structured logging
	IncludeSource   bool   // Include source file and line in logs

	DefaultLevel  slog.Level
	ChannelLevels map[Channel]slog.Level

	// Writer receives every record in addition to the console and files.
	Writer io.Writer
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   false,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		levels:   make(map[Channel]*slog.LevelVar),
		config:   config,
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	for _, channel := range allChannels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// NewWriterLogger routes every channel to w only, at debug level. Used by
// tests and CLI commands that must not touch the log directory.
func NewWriterLogger(w io.Writer) *ChanneledLogger {
	logger, err := NewChanneledLogger(&LoggerConfig{
		JSONFormat:   false,
		DefaultLevel: slog.LevelDebug,
		Writer:       w,
	})
	if err != nil {
		// Unreachable: no files are opened.
		panic(err)
	}
	return logger
}

// NewDiscardLogger drops every record.
func NewDiscardLogger() *ChanneledLogger {
	return NewWriterLogger(io.Discard)
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	level := &slog.LevelVar{}
	level.Set(cl.config.DefaultLevel)
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level.Set(channelLevel)
	}
	cl.levels[channel] = level

	var writers []io.Writer
	if cl.config.OutputToConsole {
		writers = append(writers, os.Stdout)
	}

	if cl.config.OutputToFile {
		path := filepath.Join(cl.config.LogDirectory, fmt.Sprintf("%s.log", string(channel)))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		cl.files = append(cl.files, file)
		writers = append(writers, file)
	}

	if cl.config.Writer != nil {
		writers = append(writers, cl.config.Writer)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cl.config.IncludeSource,
	}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) System() *slog.Logger   { return cl.channels[ChannelSystem] }
func (cl *ChanneledLogger) Startup() *slog.Logger  { return cl.channels[ChannelStartup] }
func (cl *ChanneledLogger) Shutdown() *slog.Logger { return cl.channels[ChannelShutdown] }
func (cl *ChanneledLogger) Capture() *slog.Logger  { return cl.channels[ChannelCapture] }
func (cl *ChanneledLogger) Consent() *slog.Logger  { return cl.channels[ChannelConsent] }
func (cl *ChanneledLogger) Storage() *slog.Logger  { return cl.channels[ChannelStorage] }
func (cl *ChanneledLogger) Dispatch() *slog.Logger { return cl.channels[ChannelDispatch] }
func (cl *ChanneledLogger) Report() *slog.Logger   { return cl.channels[ChannelReport] }
func (cl *ChanneledLogger) Database() *slog.Logger { return cl.channels[ChannelDatabase] }
func (cl *ChanneledLogger) SSE() *slog.Logger      { return cl.channels[ChannelSSE] }
func (cl *ChanneledLogger) Debug() *slog.Logger    { return cl.channels[ChannelDebug] }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithOperation returns a logger with operation context
func (cl *ChanneledLogger) WithOperation(channel Channel, operation string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("operation", operation))
}

// WithContext returns a logger carrying the request id stored in ctx, if any.
func (cl *ChanneledLogger) WithContext(channel Channel, ctx context.Context) *slog.Logger {
	logger := cl.GetChannel(channel)
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok && requestID != "" {
		logger = logger.With(slog.String("requestId", requestID))
	}
	return logger
}

type requestIDKey struct{}

// ContextWithRequestID stores a request id for WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// LogError logs an error with appropriate context and channel
func (cl *ChanneledLogger) LogError(channel Channel, operation string, err error, metadata map[string]any) {
	logger := cl.GetChannel(channel).With(
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	logger.Error("Operation failed")
}

// SetChannelLevel changes the level of a channel at runtime.
func (cl *ChanneledLogger) SetChannelLevel(channel Channel, level slog.Level) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if lv, ok := cl.levels[channel]; ok {
		lv.Set(level)
	}
}

// Levels returns the current level of every channel.
func (cl *ChanneledLogger) Levels() map[Channel]slog.Level {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make(map[Channel]slog.Level, len(cl.levels))
	for channel, lv := range cl.levels {
		out[channel] = lv.Level()
	}
	return out
}

// SetLevel changes the level of every channel.
func (cl *ChanneledLogger) SetLevel(level slog.Level) {
	for _, channel := range allChannels {
		cl.SetChannelLevel(channel, level)
	}
}

// ParseLevel converts trace/debug/info/warn/error into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Close releases the per-channel log files.
func (cl *ChanneledLogger) Close() error {
	var firstErr error
	for _, f := range cl.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cl.files = nil
	return firstErr
}
