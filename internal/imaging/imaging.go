// Package imaging provides acquisition helpers above the raw client:
// paired reference images, multi-field reference sets, and the PNG +
// metadata sidecar save pipeline.
package imaging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openfibsem/gofibsem/internal/microscope"
	"github.com/openfibsem/gofibsem/internal/structures"
)

// ReferencePair is one electron/ion image pair taken at the same pose.
type ReferencePair struct {
	Electron *structures.FibsemImage
	Ion      *structures.FibsemImage
}

// TakeReferenceImages acquires an electron frame and an ion frame with
// the same acquisition settings. When settings.Save is set both frames
// are written under settings.Path with beam-suffixed filenames.
func TakeReferenceImages(ctx context.Context, client *microscope.Client, settings structures.ImageSettings) (ReferencePair, error) {
	eb, err := acquireAndSave(ctx, client, settings.WithBeam(structures.BeamTypeElectron), "eb")
	if err != nil {
		return ReferencePair{}, err
	}
	ib, err := acquireAndSave(ctx, client, settings.WithBeam(structures.BeamTypeIon), "ib")
	if err != nil {
		return ReferencePair{}, err
	}
	return ReferencePair{Electron: eb, Ion: ib}, nil
}

// TakeSetOfReferenceImages acquires one pair per field width, low
// magnification first. Filenames get a res-<n> suffix per field.
func TakeSetOfReferenceImages(ctx context.Context, client *microscope.Client, settings structures.ImageSettings, hfws []float64) ([]ReferencePair, error) {
	if len(hfws) == 0 {
		return nil, fmt.Errorf("imaging: no field widths given")
	}
	pairs := make([]ReferencePair, 0, len(hfws))
	baseName := settings.Filename
	for i, hfw := range hfws {
		s := settings.WithHFW(hfw)
		if baseName != "" {
			s.Filename = fmt.Sprintf("%s-res-%d", baseName, i)
		}
		pair, err := TakeReferenceImages(ctx, client, s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func acquireAndSave(ctx context.Context, client *microscope.Client, settings structures.ImageSettings, beamSuffix string) (*structures.FibsemImage, error) {
	save := settings.Save
	filename := settings.Filename
	// The wire round trip does not need the save flags.
	settings.Save = false

	img, err := client.AcquireImage(ctx, settings)
	if err != nil {
		return nil, err
	}
	if save {
		name := fmt.Sprintf("%s_%s", filename, beamSuffix)
		path, err := SaveImage(img, settings.Path, name)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", path).Str("beam", settings.BeamType.String()).Msg("reference image saved")
	}
	return img, nil
}

// SaveImage writes the frame as PNG plus a YAML metadata sidecar. The
// filename is versioned if the target already exists, so repeated
// captures never overwrite earlier ones.
func SaveImage(img *structures.FibsemImage, dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("imaging: image name required")
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("imaging: create image dir: %w", err)
	}

	path := versionedPath(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("imaging: create image file: %w", err)
	}
	defer f.Close()
	if err := img.EncodePNG(f); err != nil {
		return "", err
	}

	sidecar := strings.TrimSuffix(path, ".png") + ".yaml"
	md, err := yaml.Marshal(img.Metadata)
	if err != nil {
		return "", fmt.Errorf("imaging: marshal metadata: %w", err)
	}
	if err := os.WriteFile(sidecar, md, 0o644); err != nil {
		return "", fmt.Errorf("imaging: write metadata sidecar: %w", err)
	}
	return path, nil
}

func versionedPath(dir, name string) string {
	path := filepath.Join(dir, name+".png")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d.png", name, i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
