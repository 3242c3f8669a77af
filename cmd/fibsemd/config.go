package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/sim"
)

type fileConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	AdminAddr    string `toml:"admin_addr"`
	InstrumentID string `toml:"instrument_id"`
	Manufacturer string `toml:"manufacturer"`
	Model        string `toml:"model"`
	SerialNumber string `toml:"serial_number"`
	Profile      string `toml:"profile"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// loadDaemonConfig reads the daemon TOML, applying only the keys that
// are actually present. If the config names a microscope profile it is
// loaded too.
func loadDaemonConfig(path string) (sim.ServiceConfig, *config.Settings, error) {
	cfg := sim.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return sim.ServiceConfig{}, nil, fmt.Errorf("load daemon config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
			cfg.ListenAddr = addr
		}
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("instrument_id") {
		if id := strings.TrimSpace(raw.InstrumentID); id != "" {
			cfg.InstrumentID = id
		}
	}
	if meta.IsDefined("manufacturer") {
		cfg.Manufacturer = strings.TrimSpace(raw.Manufacturer)
	}
	if meta.IsDefined("model") {
		cfg.Model = strings.TrimSpace(raw.Model)
	}
	if meta.IsDefined("serial_number") {
		cfg.SerialNumber = strings.TrimSpace(raw.SerialNumber)
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return sim.ServiceConfig{}, nil, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.Session.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return sim.ServiceConfig{}, nil, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}

	if meta.IsDefined("profile") {
		profilePath := strings.TrimSpace(raw.Profile)
		if profilePath != "" {
			profile, err := config.Load(profilePath)
			if err != nil {
				return sim.ServiceConfig{}, nil, err
			}
			return cfg, &profile, nil
		}
	}
	return cfg, nil, nil
}
