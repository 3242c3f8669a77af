// Package workflows implements the staged lamella preparation
// procedure: an experiment of positions advanced through milling
// stages, with the microscope state snapshotted and restored at stage
// boundaries.
package workflows

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/openfibsem/gofibsem/internal/structures"
)

var (
	ErrUnknownStage    = errors.New("workflows: unknown stage")
	ErrInvalidPosition = errors.New("workflows: invalid position")
)

// Stage is one step of the lamella preparation procedure.
type Stage uint8

const (
	StageSetupPosition Stage = iota
	StagePositionReady
	StageMillTrench
	StageMillUndercut
	StageSetupLamella
	StageMillRough
	StageSetupPolishing
	StageMillPolishing
	StageFinished
)

var stageNames = map[Stage]string{
	StageSetupPosition:  "SetupPosition",
	StagePositionReady:  "PositionReady",
	StageMillTrench:     "MillTrench",
	StageMillUndercut:   "MillUndercut",
	StageSetupLamella:   "SetupLamella",
	StageMillRough:      "MillRough",
	StageSetupPolishing: "SetupPolishing",
	StageMillPolishing:  "MillPolishing",
	StageFinished:       "Finished",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// ParseStage maps a stage name back to its value.
func ParseStage(raw string) (Stage, error) {
	for stage, name := range stageNames {
		if strings.EqualFold(name, strings.TrimSpace(raw)) {
			return stage, nil
		}
	}
	return StageSetupPosition, fmt.Errorf("%w: %q", ErrUnknownStage, raw)
}

func (s Stage) MarshalYAML() (any, error) {
	if _, ok := stageNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, uint8(s))
	}
	return s.String(), nil
}

func (s *Stage) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseStage(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Lamella is one sample position being prepared.
type Lamella struct {
	ID      string                     `yaml:"id"`
	Name    string                     `yaml:"name"`
	Number  int                        `yaml:"number"`
	Stage   Stage                      `yaml:"stage"`
	State   structures.MicroscopeState `yaml:"state"`
	Failure bool                       `yaml:"failure"`
	Notes   string                     `yaml:"notes,omitempty"`
}

// HasState reports whether a microscope state snapshot has been
// recorded for this position.
func (l *Lamella) HasState() bool {
	return !l.State.Timestamp.IsZero()
}

// Experiment is a set of lamella positions plus bookkeeping.
type Experiment struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	CreatedAt time.Time  `yaml:"created_at"`
	Path      string     `yaml:"-"`
	Positions []*Lamella `yaml:"positions"`
}

// NewExperiment creates an empty experiment rooted at dir.
func NewExperiment(dir, name string) (*Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workflows: experiment name required")
	}
	return &Experiment{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Path:      filepath.Join(dir, name+".yaml"),
	}, nil
}

// AddPosition appends a new lamella at SetupPosition.
func (e *Experiment) AddPosition(name string) *Lamella {
	n := len(e.Positions) + 1
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("lamella-%02d", n)
	}
	lamella := &Lamella{
		ID:     uuid.NewString(),
		Name:   name,
		Number: n,
		Stage:  StageSetupPosition,
	}
	e.Positions = append(e.Positions, lamella)
	return lamella
}

// Position returns the lamella with the given name.
func (e *Experiment) Position(name string) (*Lamella, bool) {
	for _, l := range e.Positions {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// Save writes the experiment to its path as YAML.
func (e *Experiment) Save() error {
	if strings.TrimSpace(e.Path) == "" {
		return fmt.Errorf("workflows: experiment path not set")
	}
	if dir := filepath.Dir(e.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workflows: create experiment dir: %w", err)
		}
	}
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("workflows: marshal experiment: %w", err)
	}
	if err := os.WriteFile(e.Path, data, 0o644); err != nil {
		return fmt.Errorf("workflows: write experiment: %w", err)
	}
	return nil
}

// LoadExperiment reads an experiment saved by Save.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflows: read experiment (%s): %w", path, err)
	}
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("workflows: parse experiment (%s): %w", path, err)
	}
	exp.Path = path
	return &exp, nil
}
