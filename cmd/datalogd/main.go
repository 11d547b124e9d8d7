package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PatrickBaus/data-logger/internal/config"
	"github.com/PatrickBaus/data-logger/internal/daemon"
	"github.com/PatrickBaus/data-logger/internal/device"
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/logger"
	"github.com/PatrickBaus/data-logger/internal/pid"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

const version = "2.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(cfg.LogLevel, logger.IsService())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		log.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	registry, sinks, err := build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build devices and sinks")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	interval := time.Duration(cfg.Interval * float64(time.Second))
	if err := daemon.New(registry, sinks, interval, log).Run(ctx); err != nil {
		log.Error().Err(err).Msg("error in main loop")
	}
	log.Info().Msg("Datalogger terminated. Have fun analyzing the data.")
}

// build resolves the configured driver names into device and sink instances.
func build(cfg *config.Config, log logger.Logger) (*device.Registry, []sink.Sink, error) {
	errFactory := errors.New()

	if len(cfg.Devices) == 0 {
		return nil, nil, errFactory.WithMessage(errors.ErrMissingConfig, "no devices configured")
	}
	if len(cfg.Sinks) == 0 {
		return nil, nil, errFactory.WithMessage(errors.ErrMissingConfig, "no sinks configured")
	}

	deviceFactory := device.NewFactory()
	registry := device.NewRegistry()
	for _, deviceCfg := range cfg.Devices {
		devCfg, err := deviceCfg.Device()
		if err != nil {
			return nil, nil, err
		}
		dev, err := deviceFactory.New(devCfg, log)
		if err != nil {
			return nil, nil, err
		}
		registry.Add(dev)
	}

	sinkFactory := sink.NewFactory()
	sinks := make([]sink.Sink, 0, len(cfg.Sinks))
	for _, sinkCfg := range cfg.Sinks {
		snkCfg, err := sinkCfg.Sink(version, cfg.Description)
		if err != nil {
			return nil, nil, err
		}
		snk, err := sinkFactory.New(snkCfg, log)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, snk)
	}

	return registry, sinks, nil
}
