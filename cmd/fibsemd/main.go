package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/logging"
	"github.com/openfibsem/gofibsem/internal/sim"
)

func main() {
	logging.ConfigureRuntime()

	configPath := flag.String("config", "", "path to daemon config (toml)")
	profilePath := flag.String("profile", "", "path to microscope profile (toml)")
	listenAddr := flag.String("listen", "", "protocol listen address (overrides config)")
	adminAddr := flag.String("admin", "", "admin http listen address (overrides config)")
	flag.Parse()

	svcCfg := sim.DefaultServiceConfig()
	profile := config.Default()

	if *configPath != "" {
		loaded, loadedProfile, err := loadDaemonConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load daemon config")
		}
		svcCfg = loaded
		if loadedProfile != nil {
			profile = *loadedProfile
		}
		log.Info().Str("path", *configPath).Msg("loaded daemon config")
	}
	if *profilePath != "" {
		loaded, err := config.Load(*profilePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *profilePath).Msg("failed to load microscope profile")
		}
		profile = loaded
		log.Info().Str("path", *profilePath).Msg("loaded microscope profile")
	}
	if *listenAddr != "" {
		svcCfg.ListenAddr = *listenAddr
	}
	if *adminAddr != "" {
		svcCfg.AdminAddr = *adminAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := sim.NewService(svcCfg, profile)
	log.Info().
		Str("instrument_id", svcCfg.InstrumentID).
		Str("listen", svcCfg.ListenAddr).
		Msg("fibsemd starting")
	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("fibsemd failed")
	}
}
