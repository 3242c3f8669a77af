package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfibsem/gofibsem/internal/structures"
)

func newStateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Snapshot, save, and restore the microscope state",
	}
	cmd.AddCommand(newStateGetCmd(opts))
	cmd.AddCommand(newStateSaveCmd(opts))
	cmd.AddCommand(newStateRestoreCmd(opts))
	return cmd
}

func newStateGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current microscope state as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			state, err := client.GetMicroscopeState(ctx)
			opts.observe("get_state", start, err)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(state)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newStateSaveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save <file>",
		Short: "Snapshot the microscope state to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			state, err := client.GetMicroscopeState(ctx)
			opts.observe("get_state", start, err)
			if err != nil {
				return err
			}
			if err := structures.SaveState(args[0], state); err != nil {
				return err
			}
			log.Info().Str("path", args[0]).Msg("state saved")
			return nil
		},
	}
}

func newStateRestoreCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore a previously saved microscope state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := structures.LoadState(args[0])
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
			err = client.SetMicroscopeState(ctx, state)
			opts.observe("set_state", start, err)
			if err != nil {
				return err
			}
			log.Info().Str("path", args[0]).Msg("state restored")
			return nil
		},
	}
}
