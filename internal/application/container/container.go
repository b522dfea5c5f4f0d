// Package container wires the telemetry pipeline and its infrastructure.
package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/services"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/kvstore"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/scheduling"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/transport"
	"github.com/AtRiskMedia/tractstack-telemetry/pkg/config"
)

const scopePersistent = "persistent"

// Options selects the store and collector for one container. Zero values fall
// back to pkg/config.
type Options struct {
	StoreDriver       string
	StoreDSN          string
	CollectorEndpoint string

	// Telemetry overrides the environment-derived pipeline settings.
	Telemetry *services.TelemetryConfig
}

func (o Options) withDefaults() Options {
	if o.StoreDriver == "" {
		o.StoreDriver = config.StoreDriver
	}
	if o.StoreDSN == "" {
		o.StoreDSN = config.StoreDSN
	}
	if o.CollectorEndpoint == "" {
		o.CollectorEndpoint = config.CollectorEndpoint
	}
	if o.Telemetry == nil {
		cfg := services.NewTelemetryConfig()
		o.Telemetry = &cfg
	}
	return o
}

// Container holds the singletons shared by the HTTP server and the CLI.
type Container struct {
	Config    services.TelemetryConfig
	Logger    *logging.ChanneledLogger
	LogStream *logging.LogStream
	Metrics   *metrics.Recorder
	DB        *database.DB
	Bus       *messaging.Bus
	Scheduler *scheduling.TickerScheduler
	Telemetry *services.TelemetryService

	Collector *transport.CollectorClient
	TagClient *transport.TagClient
}

// NewContainer opens the store and builds the pipeline. logger and stream are
// owned by the caller; stream may be nil.
func NewContainer(ctx context.Context, opts Options, logger *logging.ChanneledLogger, stream *logging.LogStream) (*Container, error) {
	opts = opts.withDefaults()

	db, err := database.NewConnection(opts.StoreDriver, opts.StoreDSN, logger, config.SlowQueryThreshold)
	if err != nil {
		return nil, err
	}
	if err := database.NewTableCreator().CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	store, err := kvstore.NewSQLStore(db, scopePersistent, config.StoreMaxValueBytes)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &Container{
		Config:    *opts.Telemetry,
		Logger:    logger,
		LogStream: stream,
		Metrics:   metrics.NewRecorder(),
		DB:        db,
		Bus:       messaging.NewBus(logger, config.MaxSSEConnections),
		Scheduler: scheduling.NewTickerScheduler(ctx, logger),
	}

	deps := services.TelemetryDeps{
		Store:        store,
		SessionStore: kvstore.NewMemoryStore(config.StoreMaxValueBytes),
		Bus:          c.Bus,
		Scheduler:    c.Scheduler,
		Clock:        telemetry.SystemClock{},
		Logger:       logger,
		Metrics:      c.Metrics,
	}

	if opts.CollectorEndpoint != "" {
		c.Collector = transport.NewCollectorClient(opts.CollectorEndpoint,
			transport.WithTimeout(c.Config.CollectorTimeout),
			transport.WithJWTSecret(config.CollectorJWTSecret))
		deps.Collector = c.Collector
	} else {
		logger.Startup().Warn("No collector endpoint configured, flushed events will not leave this process")
	}

	if config.TagEndpoint != "" {
		c.TagClient, err = transport.NewTagClient(config.TagEndpoint, config.TagMeasurementID,
			transport.WithTimeout(c.Config.CollectorTimeout))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tag client: %w", err)
		}
		deps.TagSink = c.TagClient
	}

	c.Telemetry = services.NewTelemetryService(c.Config, deps)
	logger.Startup().Info("Container initialized",
		"driver", db.Driver,
		"namespace", c.Config.Namespace,
		"collector", opts.CollectorEndpoint != "",
		"tagSink", deps.TagSink != nil)
	return c, nil
}

// Close tears the pipeline down, performing the final flush, then stops the
// scheduler and closes the store.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if err := c.Telemetry.Teardown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry teardown: %w", err))
	}
	c.Scheduler.Stop()
	if err := c.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
