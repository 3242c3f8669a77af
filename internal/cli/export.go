package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfibsem/gofibsem/internal/telemetry"
)

func newExportCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Inspect exported session data",
	}
	cmd.AddCommand(newExportTelemetryCmd(opts))
	return cmd
}

func newExportTelemetryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "telemetry <log.parquet>",
		Short: "Print the rows of a parquet operation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := telemetry.ReadParquet(args[0])
			if err != nil {
				return err
			}
			for _, rec := range records {
				ts := time.UnixMilli(rec.TimestampMS).UTC().Format(time.RFC3339)
				status := "ok"
				if !rec.Success {
					status = "error: " + rec.Error
				}
				line := fmt.Sprintf("%s %-24s %8.1fms %s", ts, rec.Operation, rec.DurationMS, status)
				if rec.Beam != "" {
					line += " beam=" + rec.Beam
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d records\n", len(records))
			return nil
		},
	}
}
