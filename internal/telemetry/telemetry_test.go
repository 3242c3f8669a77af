package telemetry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfibsem/gofibsem/internal/structures"
)

func TestObserveAndRecords(t *testing.T) {
	log := NewLog()
	log.Observe("acquire_image", structures.BeamTypeIon, 250*time.Millisecond, nil)
	log.Observe("move_flat_to_beam", structures.BeamTypeElectron, 10*time.Millisecond, errors.New("out of limits"))
	log.ObserveStage("move_stage_absolute", structures.StagePosition{X: 1e-3, Tilt: 0.2}, 40*time.Millisecond, nil)

	if log.Len() != 3 {
		t.Fatalf("record count: %d", log.Len())
	}
	recs := log.Records()
	if recs[0].Operation != "acquire_image" || recs[0].Beam != "ION" || !recs[0].Success {
		t.Fatalf("first record: %+v", recs[0])
	}
	if recs[0].DurationMS != 250 {
		t.Fatalf("duration ms: %v", recs[0].DurationMS)
	}
	if recs[1].Success || recs[1].Error != "out of limits" {
		t.Fatalf("failure record: %+v", recs[1])
	}
	if recs[2].StageX != 1e-3 || recs[2].StageTilt != 0.2 {
		t.Fatalf("stage record: %+v", recs[2])
	}
	if recs[0].TimestampMS == 0 {
		t.Fatalf("timestamp not stamped")
	}

	// Records returns a copy.
	recs[0].Operation = "tampered"
	if log.Records()[0].Operation != "acquire_image" {
		t.Fatalf("internal records aliased")
	}
}

func TestExportReadRoundTrip(t *testing.T) {
	log := NewLog()
	log.Observe("acquire_image", structures.BeamTypeElectron, 100*time.Millisecond, nil)
	log.ObserveStage("move_stage_relative", structures.StagePosition{Y: -2e-3}, 5*time.Millisecond, nil)
	log.Append(Record{Operation: "apply_configuration", Success: true})

	path := filepath.Join(t.TempDir(), "runs", "session.parquet")
	if err := log.Export(path); err != nil {
		t.Fatalf("export: %v", err)
	}

	got, err := ReadParquet(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("row count: %d", len(got))
	}
	if got[0].Operation != "acquire_image" || got[0].Beam != "ELECTRON" {
		t.Fatalf("first row: %+v", got[0])
	}
	if got[1].StageY != -2e-3 {
		t.Fatalf("stage row: %+v", got[1])
	}
	if got[2].Operation != "apply_configuration" || !got[2].Success {
		t.Fatalf("third row: %+v", got[2])
	}
}

func TestExportEmptyLog(t *testing.T) {
	log := NewLog()
	path := filepath.Join(t.TempDir(), "empty.parquet")
	if err := log.Export(path); err != nil {
		t.Fatalf("export empty: %v", err)
	}
	got, err := ReadParquet(path)
	if err != nil {
		t.Fatalf("read empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
}
