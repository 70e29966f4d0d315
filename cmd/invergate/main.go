package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/invergate/config"
	"github.com/timzifer/invergate/detect"
	"github.com/timzifer/invergate/internal/logging"
	"github.com/timzifer/invergate/reader"
	"github.com/timzifer/invergate/registers"
	"github.com/timzifer/invergate/remote"
	"github.com/timzifer/invergate/service"
	"github.com/timzifer/invergate/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	runDetect := flag.Bool("detect", false, "Probe the device, print the detected model and exit")
	healthcheck := flag.Bool("healthcheck", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *healthcheck {
		fmt.Println("configuration ok")
		os.Exit(0)
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := telemetry.Noop()
	if cfg.Telemetry.Enabled {
		prom, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to setup telemetry")
		}
		collector = prom
		go func() {
			logger.Info().Str("listen", cfg.Telemetry.Listen).Msg("serving metrics")
			if err := http.ListenAndServe(cfg.Telemetry.Listen, promhttp.Handler()); err != nil {
				logger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	factory, err := remote.NewClientFactory(cfg.Endpoint.Driver)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid endpoint driver")
	}
	client, err := factory(cfg.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to device")
	}
	defer client.Close()

	readerCfg := reader.Config{RequestGap: cfg.Polling.RequestGap.Duration}

	if *runDetect {
		probe := reader.NewProbe(client, readerCfg, collector, logger)
		result, err := detect.Detect(probe, cfg.SafeMode, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("detection failed")
		}
		fmt.Printf("profile: %s\nconfidence: %s\n", result.Profile, result.Confidence)
		for _, line := range result.Evidence {
			fmt.Printf("  - %s\n", line)
		}
		if result.Uncertain {
			fmt.Println("detection is uncertain; confirm the model before configuring it")
		}
		return
	}

	profileKey := cfg.Profile
	if profileKey == "" {
		probe := reader.NewProbe(client, readerCfg, collector, logger)
		result, err := detect.Detect(probe, cfg.SafeMode, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("model detection failed; set profile explicitly")
		}
		for _, line := range result.Evidence {
			logger.Info().Str("evidence", line).Msg("detection")
		}
		if result.Uncertain {
			logger.Fatal().Str("guess", result.Profile).Msg("model detection uncertain; set profile explicitly")
		}
		profileKey = result.Profile
	}

	m, err := registers.NewMap(profileKey)
	if err != nil {
		logger.Fatal().Err(err).Strs("known", registers.Profiles()).Msg("invalid profile")
	}

	loc, err := cfg.Polling.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	rd := reader.New(client, m, readerCfg, collector, logger)
	svc, err := service.New(rd, service.Config{
		Interval:   cfg.Polling.Interval.Duration,
		RetryMax:   cfg.Polling.RetryMax,
		RetryDelay: cfg.Polling.RetryDelay.Duration,
		Location:   loc,
		Derived:    cfg.Derived,
	}, collector, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}

	logger.Info().Str("profile", profileKey).Dur("interval", cfg.Polling.Interval.Duration).Msg("starting poller")
	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}
