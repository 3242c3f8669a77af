package cli

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfibsem/gofibsem/internal/imaging"
)

func newImageCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Acquire images",
	}
	cmd.AddCommand(newImageRefCmd(opts))
	cmd.AddCommand(newImageRefSetCmd(opts))
	cmd.AddCommand(newImageChamberCmd(opts))
	return cmd
}

func newImageRefCmd(opts *globalOptions) *cobra.Command {
	var (
		hfw  float64
		name string
		dir  string
		save bool
	)
	cmd := &cobra.Command{
		Use:   "ref",
		Short: "Take an electron/ion reference image pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, settings, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			spec := settings.Image()
			if hfw > 0 {
				spec = spec.WithHFW(hfw)
			}
			spec.Save = save
			spec.Filename = name
			spec.Path = dir

			start := time.Now()
			pair, err := imaging.TakeReferenceImages(ctx, client, spec)
			opts.observe("take_reference_images", start, err)
			if err != nil {
				return err
			}
			log.Info().
				Float64("hfw", spec.HFW).
				Float64("eb_mean", pair.Electron.Mean()).
				Float64("ib_mean", pair.Ion.Mean()).
				Msg("reference pair acquired")
			return nil
		},
	}
	cmd.Flags().Float64Var(&hfw, "hfw", 0, "horizontal field width (metres, 0 keeps the profile value)")
	cmd.Flags().StringVar(&name, "name", "ref", "base filename for saved images")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for saved images")
	cmd.Flags().BoolVar(&save, "save", false, "write PNG plus metadata sidecar")
	return cmd
}

func newImageRefSetCmd(opts *globalOptions) *cobra.Command {
	var (
		hfws []float64
		name string
		dir  string
		save bool
	)
	cmd := &cobra.Command{
		Use:   "ref-set",
		Short: "Take reference pairs across several field widths",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, settings, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			spec := settings.Image()
			spec.Save = save
			spec.Filename = name
			spec.Path = dir

			start := time.Now()
			pairs, err := imaging.TakeSetOfReferenceImages(ctx, client, spec, hfws)
			opts.observe("take_reference_image_set", start, err)
			if err != nil {
				return err
			}
			log.Info().Int("pairs", len(pairs)).Msg("reference set acquired")
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&hfws, "hfws", []float64{400e-6, 150e-6, 80e-6}, "field widths, low magnification first")
	cmd.Flags().StringVar(&name, "name", "ref", "base filename for saved images")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for saved images")
	cmd.Flags().BoolVar(&save, "save", false, "write PNGs plus metadata sidecars")
	return cmd
}

func newImageChamberCmd(opts *globalOptions) *cobra.Command {
	var (
		name string
		dir  string
	)
	cmd := &cobra.Command{
		Use:   "chamber",
		Short: "Grab a chamber camera frame and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, _, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			img, err := client.AcquireChamberImage(ctx)
			opts.observe("acquire_chamber_image", start, err)
			if err != nil {
				return err
			}
			path, err := imaging.SaveImage(img, dir, name)
			if err != nil {
				return err
			}
			log.Info().
				Str("path", path).
				Int("width", img.Width).
				Int("height", img.Height).
				Msg("chamber image saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "chamber", "filename for the saved frame")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for the saved frame")
	return cmd
}
