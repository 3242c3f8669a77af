package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfibsem/gofibsem/internal/structures"
	"github.com/openfibsem/gofibsem/internal/testutil/testlog"
)

// fakeInstrument records the calls the runner makes.
type fakeInstrument struct {
	state        structures.MicroscopeState
	restored     []structures.MicroscopeState
	flatMoves    []structures.BeamType
	acquisitions []structures.BeamType
	acquireErr   error
}

func newFakeInstrument() *fakeInstrument {
	return &fakeInstrument{
		state: structures.MicroscopeState{Timestamp: time.Now().UTC()},
	}
}

func (f *fakeInstrument) GetMicroscopeState(ctx context.Context) (structures.MicroscopeState, error) {
	f.state.Timestamp = time.Now().UTC()
	return f.state, nil
}

func (f *fakeInstrument) SetMicroscopeState(ctx context.Context, state structures.MicroscopeState) error {
	f.restored = append(f.restored, state)
	f.state = state
	return nil
}

func (f *fakeInstrument) MoveFlatToBeam(ctx context.Context, beam structures.BeamType) (structures.StagePosition, error) {
	f.flatMoves = append(f.flatMoves, beam)
	return f.state.Stage, nil
}

func (f *fakeInstrument) AcquireImage(ctx context.Context, settings structures.ImageSettings) (*structures.FibsemImage, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquisitions = append(f.acquisitions, settings.BeamType)
	data := make([]uint8, settings.Resolution.Width*settings.Resolution.Height)
	return structures.NewFibsemImage(data, settings.Resolution.Width, settings.Resolution.Height, structures.ImageMetadata{})
}

func testRunner(t *testing.T, inst Instrument) (*Runner, *Experiment) {
	t.Helper()
	exp, err := NewExperiment(t.TempDir(), "run")
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	settings := structures.ImageSettings{
		Resolution: structures.Resolution{Width: 64, Height: 48},
		DwellTime:  1e-6,
		HFW:        150e-6,
		BeamType:   structures.BeamTypeElectron,
	}
	runner, err := NewRunner(inst, exp, settings)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner, exp
}

func TestExperimentSaveLoadRoundTrip(t *testing.T) {
	exp, err := NewExperiment(t.TempDir(), "demo")
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	first := exp.AddPosition("")
	second := exp.AddPosition("grid-edge")
	first.Stage = StageMillTrench
	first.State = structures.MicroscopeState{
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Stage:     structures.StagePosition{X: 1e-3},
	}
	second.Failure = true
	second.Notes = "charging"

	if err := exp.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadExperiment(exp.Path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "demo" || len(got.Positions) != 2 {
		t.Fatalf("loaded experiment: %+v", got)
	}
	if got.Positions[0].Name != "lamella-01" || got.Positions[0].Stage != StageMillTrench {
		t.Fatalf("first position: %+v", got.Positions[0])
	}
	if !got.Positions[0].HasState() || got.Positions[0].State.Stage.X != 1e-3 {
		t.Fatalf("first position state: %+v", got.Positions[0].State)
	}
	if !got.Positions[1].Failure || got.Positions[1].Notes != "charging" {
		t.Fatalf("second position: %+v", got.Positions[1])
	}
	if _, ok := got.Position("grid-edge"); !ok {
		t.Fatalf("lookup by name failed")
	}
}

func TestParseStage(t *testing.T) {
	for stage, name := range stageNames {
		got, err := ParseStage(name)
		if err != nil || got != stage {
			t.Fatalf("parse %q: %v %v", name, got, err)
		}
	}
	if got, err := ParseStage("milltrench"); err != nil || got != StageMillTrench {
		t.Fatalf("case-insensitive parse: %v %v", got, err)
	}
	if _, err := ParseStage("Sharpen"); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected unknown stage, got %v", err)
	}
}

func TestMarkPositionReady(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	inst.state.Stage = structures.StagePosition{X: 2e-3, Tilt: 0.3}
	runner, exp := testRunner(t, inst)

	lamella := exp.AddPosition("")
	ctx := context.Background()
	if err := runner.MarkPositionReady(ctx, lamella); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if lamella.Stage != StagePositionReady {
		t.Fatalf("stage: %v", lamella.Stage)
	}
	if lamella.State.Stage.X != 2e-3 {
		t.Fatalf("reference pose: %+v", lamella.State.Stage)
	}
	// The experiment file is persisted by the transition.
	got, err := LoadExperiment(exp.Path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Positions[0].Stage != StagePositionReady {
		t.Fatalf("persisted stage: %v", got.Positions[0].Stage)
	}
}

func TestRunTrenchMilling(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	runner, exp := testRunner(t, inst)

	ready := exp.AddPosition("")
	skipped := exp.AddPosition("")
	ctx := context.Background()
	if err := runner.MarkPositionReady(ctx, ready); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	if err := runner.RunTrenchMilling(ctx); err != nil {
		t.Fatalf("trench milling: %v", err)
	}
	if ready.Stage != StageMillTrench {
		t.Fatalf("ready position stage: %v", ready.Stage)
	}
	if skipped.Stage != StageSetupPosition {
		t.Fatalf("unready position advanced: %v", skipped.Stage)
	}
	// Start restores the saved state; entry and exit each take an
	// electron/ion reference pair.
	if len(inst.restored) != 1 {
		t.Fatalf("state restores: %d", len(inst.restored))
	}
	if len(inst.acquisitions) != 4 {
		t.Fatalf("reference acquisitions: %d", len(inst.acquisitions))
	}
}

func TestRunUndercutMovesFlatToIon(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	runner, exp := testRunner(t, inst)

	lamella := exp.AddPosition("")
	ctx := context.Background()
	if err := runner.MarkPositionReady(ctx, lamella); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if err := runner.RunTrenchMilling(ctx); err != nil {
		t.Fatalf("trench: %v", err)
	}
	if err := runner.RunUndercutMilling(ctx); err != nil {
		t.Fatalf("undercut: %v", err)
	}
	if lamella.Stage != StageMillUndercut {
		t.Fatalf("stage: %v", lamella.Stage)
	}
	if len(inst.flatMoves) != 1 || inst.flatMoves[0] != structures.BeamTypeIon {
		t.Fatalf("flat moves: %v", inst.flatMoves)
	}
}

func TestRunStageSavesReferenceImages(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	exp, err := NewExperiment(t.TempDir(), "run")
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	settings := structures.ImageSettings{
		Resolution: structures.Resolution{Width: 64, Height: 48},
		DwellTime:  1e-6,
		HFW:        150e-6,
		BeamType:   structures.BeamTypeElectron,
		Save:       true,
	}
	runner, err := NewRunner(inst, exp, settings)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	lamella := exp.AddPosition("")
	ctx := context.Background()
	if err := runner.MarkPositionReady(ctx, lamella); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if err := runner.RunTrenchMilling(ctx); err != nil {
		t.Fatalf("trench milling: %v", err)
	}

	dir := filepath.Join(filepath.Dir(exp.Path), lamella.Name)
	for _, name := range []string{
		"ref_milltrench_start_eb.png",
		"ref_milltrench_start_ib.png",
		"ref_milltrench_final_eb.png",
		"ref_milltrench_final_ib.png",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("reference image not saved: %v", err)
		}
	}
}

func TestRunStageFailureMarksAndContinues(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	runner, exp := testRunner(t, inst)

	failing := exp.AddPosition("")
	ctx := context.Background()
	if err := runner.MarkPositionReady(ctx, failing); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	if err := runner.runStage(ctx, failing, StageMillTrench, func() error {
		return fmt.Errorf("beam drift")
	}); err != nil {
		t.Fatalf("run stage returned error instead of marking failure: %v", err)
	}
	if !failing.Failure || failing.Notes != "beam drift" {
		t.Fatalf("failure bookkeeping: %+v", failing)
	}

	// Failed positions are skipped by later phases.
	if err := runner.RunUndercutMilling(ctx); err != nil {
		t.Fatalf("undercut: %v", err)
	}
	if failing.Stage != StageMillTrench {
		t.Fatalf("failed position advanced: %v", failing.Stage)
	}
}

func TestRunLamellaMillingProgression(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	runner, exp := testRunner(t, inst)

	lamella := exp.AddPosition("")
	ctx := context.Background()
	if err := runner.MarkPositionReady(ctx, lamella); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	for _, phase := range []func(context.Context) error{
		runner.RunTrenchMilling,
		runner.RunUndercutMilling,
		runner.RunSetupLamella,
		runner.RunLamellaMilling,
	} {
		if err := phase(ctx); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}
	if lamella.Stage != StageFinished {
		t.Fatalf("final stage: %v", lamella.Stage)
	}
	if lamella.Failure {
		t.Fatalf("unexpected failure: %+v", lamella)
	}
}

func TestMillingProtocolPlacement(t *testing.T) {
	testlog.Start(t)
	inst := newFakeInstrument()
	runner, _ := testRunner(t, inst)

	lamella := &Lamella{Name: "l1"}
	for _, protocol := range []MillingStage{trenchProtocol(), undercutProtocol(), polishProtocol("rough", 0.74e-9)} {
		if err := runner.mill(lamella, protocol); err != nil {
			t.Fatalf("protocol %q: %v", protocol.Name, err)
		}
	}
}

func TestEstimateDuration(t *testing.T) {
	stage := trenchProtocol()
	d := stage.EstimateDuration()
	if d <= 0 {
		t.Fatalf("duration: %v", d)
	}
	// Halving the current doubles the estimate.
	slower := stage
	slower.BeamCurrent = stage.BeamCurrent / 2
	if got := slower.EstimateDuration(); got < d*19/10 || got > d*21/10 {
		t.Fatalf("current scaling: %v vs %v", got, d)
	}
	if (MillingStage{}).EstimateDuration() != 0 {
		t.Fatalf("zero current should give zero estimate")
	}
}
