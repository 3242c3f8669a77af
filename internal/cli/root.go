// Package cli implements the fibsemctl command tree.
package cli

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/logging"
	"github.com/openfibsem/gofibsem/internal/microscope"
	"github.com/openfibsem/gofibsem/internal/telemetry"
)

type globalOptions struct {
	profilePath   string
	telemetryPath string
	log           *telemetry.Log
}

// NewRootCmd builds the fibsemctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{log: telemetry.NewLog()}

	cmd := &cobra.Command{
		Use:   "fibsemctl",
		Short: "Control a FIB-SEM instrument over the gofibsem protocol",
		Long: `fibsemctl drives a dual-beam FIB-SEM instrument endpoint: apply
configuration, move the stage and manipulator, snapshot and restore the
microscope state, acquire reference images, and run lamella
preparation workflows.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env if present so connection overrides work
			// without flags.
			_ = godotenv.Load()
			logging.ConfigureRuntime()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.exportTelemetry()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.profilePath, "profile", "microscope.toml",
		"path to the microscope profile (toml)")
	cmd.PersistentFlags().StringVar(&opts.telemetryPath, "telemetry", "",
		"write a parquet operation log to this path on exit")

	cmd.AddCommand(newApplyConfigCmd(opts))
	cmd.AddCommand(newStateCmd(opts))
	cmd.AddCommand(newMoveCmd(opts))
	cmd.AddCommand(newManipulatorCmd(opts))
	cmd.AddCommand(newImageCmd(opts))
	cmd.AddCommand(newWorkflowCmd(opts))
	cmd.AddCommand(newExportCmd(opts))

	return cmd
}

// connect opens the instrument session from the configured profile.
func (o *globalOptions) connect(ctx context.Context) (*microscope.Client, config.Settings, error) {
	client, settings, err := microscope.SetupSession(ctx, o.profilePath)
	if err != nil {
		return nil, config.Settings{}, err
	}
	return client, settings, nil
}

// observe appends one operation record to the session telemetry log.
func (o *globalOptions) observe(op string, start time.Time, err error) {
	o.log.Append(telemetry.Record{
		Operation:  op,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:    err == nil,
		Error:      errString(err),
	})
}

func (o *globalOptions) exportTelemetry() {
	if o.telemetryPath == "" || o.log.Len() == 0 {
		return
	}
	if err := o.log.Export(o.telemetryPath); err != nil {
		log.Error().Err(err).Str("path", o.telemetryPath).Msg("telemetry export failed")
		return
	}
	log.Info().Str("path", o.telemetryPath).Int("records", o.log.Len()).Msg("telemetry exported")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newApplyConfigCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply-config",
		Short: "Push the stored profile into the instrument registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			err = client.ApplyConfiguration(ctx)
			opts.observe("apply_configuration", start, err)
			if err != nil {
				return err
			}
			log.Info().Msg("configuration applied")
			return nil
		},
	}
}
