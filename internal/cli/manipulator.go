package cli

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfibsem/gofibsem/internal/structures"
)

func newManipulatorCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "manipulator",
		Aliases: []string{"needle"},
		Short:   "Drive the nanomanipulator",
	}
	cmd.AddCommand(newManipulatorInsertCmd(opts))
	cmd.AddCommand(newManipulatorRetractCmd(opts))
	cmd.AddCommand(newManipulatorMoveCmd(opts))
	return cmd
}

func newManipulatorInsertCmd(opts *globalOptions) *cobra.Command {
	var preset string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert the manipulator to a named preset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			err = client.InsertManipulator(ctx, preset)
			opts.observe("insert_manipulator", start, err)
			if err != nil {
				return err
			}
			log.Info().Str("preset", preset).Msg("manipulator inserted")
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "PARK", "insertion preset name")
	return cmd
}

func newManipulatorRetractCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retract",
		Short: "Retract the manipulator to the park position",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			err = client.RetractManipulator(ctx)
			opts.observe("retract_manipulator", start, err)
			if err != nil {
				return err
			}
			log.Info().Msg("manipulator retracted")
			return nil
		},
	}
}

func newManipulatorMoveCmd(opts *globalOptions) *cobra.Command {
	var (
		dx       float64
		dy       float64
		beamName string
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move the manipulator relative to its current position",
		Long: `Move the manipulator by an image-plane offset. With --beam the
offset is corrected for the viewing column: the vertical component maps
onto the chamber Y axis under the electron beam and onto Z under the
ion beam. Without --beam the offset is applied in raw chamber axes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			if beamName == "" {
				err = client.MoveManipulatorRelative(ctx, dx, dy)
				opts.observe("move_manipulator_relative", start, err)
			} else {
				var beam structures.BeamType
				beam, err = structures.ParseBeamType(beamName)
				if err != nil {
					return err
				}
				err = client.MoveManipulatorCorrected(ctx, dx, dy, beam)
				opts.observe("move_manipulator_corrected", start, err)
			}
			if err != nil {
				return err
			}
			log.Info().Float64("dx", dx).Float64("dy", dy).Msg("manipulator moved")
			return nil
		},
	}
	cmd.Flags().Float64Var(&dx, "dx", 0, "horizontal offset (metres)")
	cmd.Flags().Float64Var(&dy, "dy", 0, "vertical offset (metres)")
	cmd.Flags().StringVar(&beamName, "beam", "", "viewing beam for axis correction (electron|ion)")
	return cmd
}
