package workflows

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/imaging"
	"github.com/openfibsem/gofibsem/internal/structures"
)

// Instrument is the slice of the microscope client the runners drive.
type Instrument interface {
	GetMicroscopeState(ctx context.Context) (structures.MicroscopeState, error)
	SetMicroscopeState(ctx context.Context, state structures.MicroscopeState) error
	MoveFlatToBeam(ctx context.Context, beam structures.BeamType) (structures.StagePosition, error)
	AcquireImage(ctx context.Context, settings structures.ImageSettings) (*structures.FibsemImage, error)
}

// Runner advances an experiment through the preparation stages.
type Runner struct {
	instrument    Instrument
	experiment    *Experiment
	imageSettings structures.ImageSettings
}

func NewRunner(instrument Instrument, experiment *Experiment, imageSettings structures.ImageSettings) (*Runner, error) {
	if instrument == nil {
		return nil, fmt.Errorf("workflows: instrument required")
	}
	if experiment == nil {
		return nil, fmt.Errorf("workflows: experiment required")
	}
	if err := imageSettings.Resolution.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		instrument:    instrument,
		experiment:    experiment,
		imageSettings: imageSettings,
	}, nil
}

// MarkPositionReady snapshots the current microscope state as the
// reference pose for a position and advances it to PositionReady.
func (r *Runner) MarkPositionReady(ctx context.Context, lamella *Lamella) error {
	state, err := r.instrument.GetMicroscopeState(ctx)
	if err != nil {
		return err
	}
	lamella.State = state
	lamella.Stage = StagePositionReady
	logStatus(lamella, "position marked ready")
	return r.experiment.Save()
}

// RunTrenchMilling mills the rough trenches for every ready position.
func (r *Runner) RunTrenchMilling(ctx context.Context) error {
	for _, lamella := range r.experiment.Positions {
		if lamella.Stage != StagePositionReady || lamella.Failure {
			continue
		}
		if err := r.runStage(ctx, lamella, StageMillTrench, func() error {
			return r.mill(lamella, trenchProtocol())
		}); err != nil {
			return err
		}
	}
	return nil
}

// RunUndercutMilling tilts and cuts the undercut for every trenched
// position.
func (r *Runner) RunUndercutMilling(ctx context.Context) error {
	for _, lamella := range r.experiment.Positions {
		if lamella.Stage != StageMillTrench || lamella.Failure {
			continue
		}
		if err := r.runStage(ctx, lamella, StageMillUndercut, func() error {
			// The undercut is cut with the surface flat to the ion
			// column.
			if _, err := r.instrument.MoveFlatToBeam(ctx, structures.BeamTypeIon); err != nil {
				return err
			}
			return r.mill(lamella, undercutProtocol())
		}); err != nil {
			return err
		}
	}
	return nil
}

// RunSetupLamella realigns each undercut position for the thinning
// cuts.
func (r *Runner) RunSetupLamella(ctx context.Context) error {
	for _, lamella := range r.experiment.Positions {
		if lamella.Stage != StageMillUndercut || lamella.Failure {
			continue
		}
		if err := r.runStage(ctx, lamella, StageSetupLamella, func() error {
			_, err := r.instrument.MoveFlatToBeam(ctx, structures.BeamTypeIon)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// RunLamellaMilling performs rough milling, polishing setup, and final
// polishing for every position that has completed lamella setup.
func (r *Runner) RunLamellaMilling(ctx context.Context) error {
	steps := []struct {
		from Stage
		to   Stage
		op   func(*Lamella) error
	}{
		{StageSetupLamella, StageMillRough, func(l *Lamella) error {
			return r.mill(l, polishProtocol("rough", 0.74e-9))
		}},
		{StageMillRough, StageSetupPolishing, func(l *Lamella) error {
			return nil
		}},
		{StageSetupPolishing, StageMillPolishing, func(l *Lamella) error {
			return r.mill(l, polishProtocol("polish", 60.0e-12))
		}},
	}

	for _, step := range steps {
		for _, lamella := range r.experiment.Positions {
			if lamella.Stage != step.from || lamella.Failure {
				continue
			}
			op := step.op
			if err := r.runStage(ctx, lamella, step.to, func() error {
				return op(lamella)
			}); err != nil {
				return err
			}
		}
	}

	for _, lamella := range r.experiment.Positions {
		if lamella.Stage == StageMillPolishing && !lamella.Failure {
			lamella.Stage = StageFinished
			logStatus(lamella, "finished")
		}
	}
	return r.experiment.Save()
}

// runStage wraps one stage body with the start/end bookkeeping: the
// saved state is restored and reference images are taken on entry, and
// a fresh snapshot is recorded and persisted on exit. A failing body
// marks the position failed instead of aborting the run.
func (r *Runner) runStage(ctx context.Context, lamella *Lamella, stage Stage, body func() error) error {
	if err := r.startOfStage(ctx, lamella, stage); err != nil {
		return err
	}
	if err := body(); err != nil {
		lamella.Failure = true
		lamella.Notes = err.Error()
		logStatus(lamella, "stage failed")
		return r.experiment.Save()
	}
	return r.endOfStage(ctx, lamella)
}

func (r *Runner) startOfStage(ctx context.Context, lamella *Lamella, stage Stage) error {
	if lamella.HasState() {
		if err := r.instrument.SetMicroscopeState(ctx, lamella.State); err != nil {
			return fmt.Errorf("workflows: restore state for %s: %w", lamella.Name, err)
		}
	}
	lamella.Stage = stage
	logStatus(lamella, "stage started")
	return r.takeReferencePair(ctx, lamella, "start")
}

func (r *Runner) endOfStage(ctx context.Context, lamella *Lamella) error {
	state, err := r.instrument.GetMicroscopeState(ctx)
	if err != nil {
		return err
	}
	lamella.State = state
	logStatus(lamella, "stage complete")
	if err := r.takeReferencePair(ctx, lamella, "final"); err != nil {
		return err
	}
	return r.experiment.Save()
}

// takeReferencePair grabs an electron/ion pair at the current pose.
// When the runner's settings request saving, each frame is written
// under the position's directory with a stage-derived name.
func (r *Runner) takeReferencePair(ctx context.Context, lamella *Lamella, label string) error {
	for _, beam := range []structures.BeamType{structures.BeamTypeElectron, structures.BeamTypeIon} {
		settings := r.imageSettings.WithBeam(beam)
		// Saving happens here, not at the instrument.
		settings.Save = false
		settings.Filename = ""
		img, err := r.instrument.AcquireImage(ctx, settings)
		if err != nil {
			return fmt.Errorf("workflows: reference image (%s) for %s: %w", beam, lamella.Name, err)
		}
		if !r.imageSettings.Save {
			continue
		}
		suffix := "eb"
		if beam == structures.BeamTypeIon {
			suffix = "ib"
		}
		name := fmt.Sprintf("ref_%s_%s_%s", strings.ToLower(lamella.Stage.String()), label, suffix)
		if _, err := imaging.SaveImage(img, r.referenceDir(lamella), name); err != nil {
			return fmt.Errorf("workflows: save reference for %s: %w", lamella.Name, err)
		}
	}
	return nil
}

// referenceDir is where a position's reference images land: the
// configured imaging path if one is set, else a per-position directory
// next to the experiment file.
func (r *Runner) referenceDir(lamella *Lamella) string {
	if r.imageSettings.Path != "" {
		return filepath.Join(r.imageSettings.Path, lamella.Name)
	}
	return filepath.Join(filepath.Dir(r.experiment.Path), lamella.Name)
}

func logStatus(lamella *Lamella, msg string) {
	log.Info().
		Str("lamella", lamella.Name).
		Str("stage", lamella.Stage.String()).
		Bool("failure", lamella.Failure).
		Msg(msg)
}
