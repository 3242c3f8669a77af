package imaging

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/microscope"
	"github.com/openfibsem/gofibsem/internal/protocol/session"
	"github.com/openfibsem/gofibsem/internal/sim"
	"github.com/openfibsem/gofibsem/internal/structures"
	"github.com/openfibsem/gofibsem/internal/testutil/testlog"
)

func startSim(t *testing.T) (*microscope.Client, context.Context) {
	t.Helper()
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := sim.DefaultServiceConfig()
	cfg.Session.HandshakeTimeout = 2 * time.Second
	svc := sim.NewService(cfg, config.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	go func() { _ = svc.Serve(ctx, ln) }()

	client, err := microscope.Connect(ctx, microscope.ClientConfig{
		Address:  ln.Addr().String(),
		ClientID: "imaging.test",
		Session: session.Config{
			ConnectTimeout:   2 * time.Second,
			HandshakeTimeout: 2 * time.Second,
			ReadTimeout:      2 * time.Second,
			WriteTimeout:     2 * time.Second,
			AcquireTimeout:   10 * time.Second,
		},
		MaxConnectAttempts: 1,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, ctx
}

func testSettings(dir string) structures.ImageSettings {
	return structures.ImageSettings{
		Resolution: structures.Resolution{Width: 128, Height: 96},
		DwellTime:  1e-6,
		HFW:        150e-6,
		Save:       true,
		Path:       dir,
		Filename:   "ref",
		BeamType:   structures.BeamTypeElectron,
	}
}

func TestTakeReferenceImages(t *testing.T) {
	client, ctx := startSim(t)
	dir := t.TempDir()

	pair, err := TakeReferenceImages(ctx, client, testSettings(dir))
	if err != nil {
		t.Fatalf("take reference images: %v", err)
	}
	if pair.Electron == nil || pair.Ion == nil {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if pair.Electron.Metadata.Settings.BeamType != structures.BeamTypeElectron {
		t.Fatalf("electron frame beam: %v", pair.Electron.Metadata.Settings.BeamType)
	}
	if pair.Ion.Metadata.Settings.BeamType != structures.BeamTypeIon {
		t.Fatalf("ion frame beam: %v", pair.Ion.Metadata.Settings.BeamType)
	}

	for _, name := range []string{"ref_eb.png", "ref_eb.yaml", "ref_ib.png", "ref_ib.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
}

func TestTakeSetOfReferenceImages(t *testing.T) {
	client, ctx := startSim(t)
	dir := t.TempDir()

	hfws := []float64{400e-6, 150e-6}
	pairs, err := TakeSetOfReferenceImages(ctx, client, testSettings(dir), hfws)
	if err != nil {
		t.Fatalf("take set: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pair count: %d", len(pairs))
	}
	for i, pair := range pairs {
		if got := pair.Ion.Metadata.Settings.HFW; got != hfws[i] {
			t.Fatalf("pair %d hfw: %v", i, got)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "ref-res-0_eb.png")); err != nil {
		t.Fatalf("missing field 0 electron frame: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ref-res-1_ib.png")); err != nil {
		t.Fatalf("missing field 1 ion frame: %v", err)
	}

	if _, err := TakeSetOfReferenceImages(ctx, client, testSettings(dir), nil); err == nil {
		t.Fatalf("expected error for empty field width list")
	}
}

func TestSaveImageVersioning(t *testing.T) {
	dir := t.TempDir()
	img, err := structures.NewFibsemImage(make([]uint8, 8*4), 8, 4, structures.ImageMetadata{})
	if err != nil {
		t.Fatalf("new image: %v", err)
	}

	first, err := SaveImage(img, dir, "frame")
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := SaveImage(img, dir, "frame")
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	third, err := SaveImage(img, dir, "frame")
	if err != nil {
		t.Fatalf("third save: %v", err)
	}

	if !strings.HasSuffix(first, "frame.png") {
		t.Fatalf("first path: %s", first)
	}
	if !strings.HasSuffix(second, "frame-1.png") {
		t.Fatalf("second path: %s", second)
	}
	if !strings.HasSuffix(third, "frame-2.png") {
		t.Fatalf("third path: %s", third)
	}
	// Each PNG gets a metadata sidecar.
	if _, err := os.Stat(strings.TrimSuffix(second, ".png") + ".yaml"); err != nil {
		t.Fatalf("missing sidecar: %v", err)
	}
}

func TestSaveImageRequiresName(t *testing.T) {
	img, err := structures.NewFibsemImage(make([]uint8, 4), 2, 2, structures.ImageMetadata{})
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if _, err := SaveImage(img, t.TempDir(), "  "); err == nil {
		t.Fatalf("expected name requirement error")
	}
}
