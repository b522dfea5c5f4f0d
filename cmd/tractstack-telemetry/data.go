package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/analytics"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newReportCmd(), newExportCmd(), newClearCmd(), newFlushCmd())
}

func newReportCmd() *cobra.Command {
	f := NewStoreFlags()
	var start, end string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print an analytics report over the retained events",
		RunE: func(cmd *cobra.Command, args []string) error {
			dr, err := analytics.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			c, closeFn, err := openContainer(cmd.Context(), f.Options())
			if err != nil {
				return err
			}
			defer closeFn()
			return writeJSON(cmd.OutOrStdout(), c.Telemetry.GenerateReport(dr), pretty)
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&start, "start", "", "Range start (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Range end (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func newExportCmd() *cobra.Command {
	f := NewStoreFlags()
	var pretty bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the retained ratings, feedback and metrics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := openContainer(cmd.Context(), f.Options())
			if err != nil {
				return err
			}
			defer closeFn()
			return writeJSON(cmd.OutOrStdout(), c.Telemetry.ExportData(), pretty)
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func newClearCmd() *cobra.Command {
	f := NewStoreFlags()
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every retained event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, "Delete all retained telemetry? [y/N] ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
			c, closeFn, err := openContainer(cmd.Context(), f.Options())
			if err != nil {
				return err
			}
			defer closeFn()
			c.Telemetry.ClearData()
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newFlushCmd() *cobra.Command {
	f := NewStoreFlags()
	var collector string

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Check collector delivery by flushing the queue once",
		Long: `The dispatch queue lives in memory, so a fresh process starts with an
empty queue. flush is mostly useful to verify collector settings: it opens the
store, runs one forced flush and reports the result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := f.Options()
			opts.CollectorEndpoint = collector
			c, closeFn, err := openContainer(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := c.Telemetry.Flush(cmd.Context()); err != nil {
				return fmt.Errorf("flush failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flushed, %d pending\n", c.Telemetry.Pending())
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&collector, "collector", "", "Collector endpoint, defaults to COLLECTOR_ENDPOINT")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

