package cli

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfibsem/gofibsem/internal/structures"
)

func newMoveCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move the stage",
	}
	cmd.AddCommand(newMoveFlatCmd(opts))
	cmd.AddCommand(newMoveStageCmd(opts))
	return cmd
}

func newMoveFlatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flat <electron|ion>",
		Short: "Orient the stage flat to the named beam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			beam, err := structures.ParseBeamType(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			pos, err := client.MoveFlatToBeam(ctx, beam)
			opts.log.ObserveStage("move_flat_to_beam", pos, time.Since(start), err)
			if err != nil {
				return err
			}
			log.Info().
				Str("beam", beam.String()).
				Float64("rotation", pos.Rotation).
				Float64("tilt", pos.Tilt).
				Msg("stage flat to beam")
			return nil
		},
	}
}

func newMoveStageCmd(opts *globalOptions) *cobra.Command {
	var (
		pos      structures.StagePosition
		relative bool
	)
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Move the stage to a pose (metres/radians)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			op := "move_stage_absolute"
			mover := client.MoveStageAbsolute
			if relative {
				op = "move_stage_relative"
				mover = client.MoveStageRelative
			}

			start := time.Now()
			result, err := mover(ctx, pos)
			opts.log.ObserveStage(op, result, time.Since(start), err)
			if err != nil {
				return err
			}
			log.Info().
				Float64("x", result.X).
				Float64("y", result.Y).
				Float64("z", result.Z).
				Float64("rotation", result.Rotation).
				Float64("tilt", result.Tilt).
				Msg("stage moved")
			return nil
		},
	}
	cmd.Flags().Float64Var(&pos.X, "x", 0, "x position")
	cmd.Flags().Float64Var(&pos.Y, "y", 0, "y position")
	cmd.Flags().Float64Var(&pos.Z, "z", 0, "z position")
	cmd.Flags().Float64Var(&pos.Rotation, "rotation", 0, "rotation")
	cmd.Flags().Float64Var(&pos.Tilt, "tilt", 0, "tilt")
	cmd.Flags().BoolVar(&relative, "relative", false, "treat the pose as an offset")
	return cmd
}
