package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfibsem/gofibsem/internal/workflows"
)

func newWorkflowCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run staged lamella preparation",
	}
	cmd.AddCommand(newWorkflowNewCmd())
	cmd.AddCommand(newWorkflowAddCmd(opts))
	cmd.AddCommand(newWorkflowRunCmd(opts))
	cmd.AddCommand(newWorkflowStatusCmd())
	return cmd
}

func newWorkflowNewCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create an empty experiment file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := workflows.NewExperiment(dir, args[0])
			if err != nil {
				return err
			}
			if err := exp.Save(); err != nil {
				return err
			}
			log.Info().Str("path", exp.Path).Msg("experiment created")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for the experiment file")
	return cmd
}

func newWorkflowAddCmd(opts *globalOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add-position <experiment.yaml>",
		Short: "Record the current pose as a new lamella position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := workflows.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, settings, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			runner, err := workflows.NewRunner(client, exp, settings.Image())
			if err != nil {
				return err
			}
			lamella := exp.AddPosition(name)
			start := time.Now()
			err = runner.MarkPositionReady(ctx, lamella)
			opts.observe("mark_position_ready", start, err)
			if err != nil {
				return err
			}
			log.Info().
				Str("lamella", lamella.Name).
				Int("number", lamella.Number).
				Msg("position added")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "position name (defaults to lamella-<n>)")
	return cmd
}

func newWorkflowRunCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <experiment.yaml> <trench|undercut|setup|lamella|all>",
		Short: "Advance every eligible position through a milling phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := workflows.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, settings, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			runner, err := workflows.NewRunner(client, exp, settings.Image())
			if err != nil {
				return err
			}

			phases := map[string][]func() error{
				"trench":   {func() error { return runner.RunTrenchMilling(ctx) }},
				"undercut": {func() error { return runner.RunUndercutMilling(ctx) }},
				"setup":    {func() error { return runner.RunSetupLamella(ctx) }},
				"lamella":  {func() error { return runner.RunLamellaMilling(ctx) }},
			}
			phases["all"] = []func() error{
				phases["trench"][0],
				phases["undercut"][0],
				phases["setup"][0],
				phases["lamella"][0],
			}

			steps, ok := phases[args[1]]
			if !ok {
				return fmt.Errorf("unknown phase %q", args[1])
			}
			start := time.Now()
			for _, step := range steps {
				if err = step(); err != nil {
					break
				}
			}
			opts.observe("workflow_"+args[1], start, err)
			if err != nil {
				return err
			}
			log.Info().Str("phase", args[1]).Msg("workflow phase complete")
			return nil
		},
	}
	return cmd
}

func newWorkflowStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <experiment.yaml>",
		Short: "Print the stage of every position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := workflows.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "experiment: %s (%d positions)\n", exp.Name, len(exp.Positions))
			for _, l := range exp.Positions {
				mark := " "
				if l.Failure {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %-16s %s\n", mark, l.Name, l.Stage)
				if l.Notes != "" {
					fmt.Fprintf(out, "      %s\n", l.Notes)
				}
			}
			return nil
		},
	}
}
