package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/container"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootCmd runs the server when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tractstack-telemetry",
	Short: "Consent-gated feedback telemetry agent",
	Long: `tractstack-telemetry captures helpfulness ratings, written feedback and
engagement metrics for ranked content, keeps a bounded durable log of them,
batches them to a remote collector and reports on them locally.`,
	SilenceUsage: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (trace,debug,info,warn,error)")
}

// StoreFlags selects the durable store.
type StoreFlags struct {
	Driver string
	DSN    string
}

func NewStoreFlags() *StoreFlags {
	return &StoreFlags{}
}

func (f *StoreFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Driver, "store-driver", f.Driver, "Store driver (sqlite3 or libsql), defaults to STORE_DRIVER")
	fs.StringVar(&f.DSN, "store-dsn", f.DSN, "Store data source name, defaults to STORE_DSN")
}

func (f *StoreFlags) Options() container.Options {
	return container.Options{StoreDriver: f.Driver, StoreDSN: f.DSN}
}

// openContainer builds a container for one-shot commands. Logs go to stderr so
// stdout carries only command output.
func openContainer(ctx context.Context, opts container.Options) (*container.Container, func(), error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		DefaultLevel: level,
		Writer:       os.Stderr,
	})
	if err != nil {
		return nil, nil, err
	}
	c, err := container.NewContainer(ctx, opts, logger, nil)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := c.Close(ctx); err != nil {
			logger.System().Warn("Failed to close telemetry store", "error", err)
		}
		logger.Close()
	}
	return c, closeFn, nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
