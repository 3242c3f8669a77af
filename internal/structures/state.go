package structures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveState writes a state snapshot to path as YAML, creating parent
// directories as needed.
func SaveState(path string, state MicroscopeState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("structures: marshal state: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("structures: create state dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("structures: write state: %w", err)
	}
	return nil
}

// LoadState reads a state snapshot written by SaveState.
func LoadState(path string) (MicroscopeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MicroscopeState{}, fmt.Errorf("structures: read state (%s): %w", path, err)
	}
	var state MicroscopeState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return MicroscopeState{}, fmt.Errorf("structures: parse state (%s): %w", path, err)
	}
	if err := state.Validate(); err != nil {
		return MicroscopeState{}, err
	}
	return state, nil
}

// EncodeState serializes a snapshot for the wire.
func EncodeState(state MicroscopeState) ([]byte, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// DecodeState parses a wire-encoded snapshot.
func DecodeState(data []byte) (MicroscopeState, error) {
	var state MicroscopeState
	if err := json.Unmarshal(data, &state); err != nil {
		return MicroscopeState{}, fmt.Errorf("structures: decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return MicroscopeState{}, err
	}
	return state, nil
}
