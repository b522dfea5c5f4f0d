package main

import (
	"github.com/AtRiskMedia/tractstack-telemetry/internal/application/startup"
	"github.com/spf13/cobra"
)

func init() {
	f := NewStoreFlags()
	var collector string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture API, periodic flush and live streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := f.Options()
			opts.CollectorEndpoint = collector
			return startup.Initialize(opts, logLevel)
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&collector, "collector", "", "Collector endpoint, defaults to COLLECTOR_ENDPOINT")
	rootCmd.AddCommand(cmd)
	rootCmd.RunE = cmd.RunE
	rootCmd.Flags().AddFlagSet(cmd.Flags())
}
