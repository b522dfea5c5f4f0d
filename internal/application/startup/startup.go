// Package startup runs the telemetry agent server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/container"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/presentation/http/server"
	"github.com/AtRiskMedia/tractstack-telemetry/pkg/config"
	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout = 30 * time.Second
	logStreamBuffer = 100
)

// NewLogger builds the channeled logger from pkg/config. When stream is
// non-nil every record is also sent to it; that requires JSON output.
func NewLogger(level string, stream *logging.LogStream) (*logging.ChanneledLogger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = config.LogToFile
	cfg.LogDirectory = config.LogDirectory
	cfg.JSONFormat = config.LogJSON || stream != nil
	cfg.DefaultLevel = lvl
	if stream != nil {
		cfg.Writer = stream
	}
	return logging.NewChanneledLogger(cfg)
}

// Initialize performs the startup sequence and blocks until SIGINT or SIGTERM.
func Initialize(opts container.Options, logLevel string) error {
	setupLogging()
	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Logging
	log.Println("Initializing logging...")
	stream := logging.NewLogStream(logStreamBuffer)
	logger, err := NewLogger(logLevel, stream)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()
	logger.Startup().Info("Channeled logging ready", "level", logLevel)

	// Step 2: Store and pipeline
	logger.Startup().Info("Initializing telemetry container...")
	appContainer, err := container.NewContainer(ctx, opts, logger, stream)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}

	// Step 3: Periodic flush and lifecycle subscriptions
	appContainer.Telemetry.Init()
	consent := appContainer.Telemetry.ConsentStatus()
	logger.Startup().Info("Telemetry pipeline ready",
		"canTrack", consent.CanTrack,
		"consentRequired", consent.ConsentRequired,
		"retained", len(appContainer.Telemetry.ExportData().Ratings))

	// Step 4: HTTP server
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+config.Port)
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	var runErr error
	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.System().Error("HTTP server failed", "error", runErr.Error())
		}
	}

	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	}

	// The final flush runs before background tasks are cancelled.
	logger.Shutdown().Info("Flushing pending telemetry...", "pending", appContainer.Telemetry.Pending())
	if err := appContainer.Close(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error closing telemetry container", "error", err.Error())
	}
	cancelBackgroundTasks()

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))
	return runErr
}

func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
