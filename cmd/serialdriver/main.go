// Package main is the entry point for the serial bus driver. It wires
// configuration, ports, device sessions and the MQTT bridge together and
// manages the process lifecycle.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/serial-driver/internal/adapter/config"
	"github.com/nexus-edge/serial-driver/internal/adapter/mqtt"
	"github.com/nexus-edge/serial-driver/internal/bus"
	"github.com/nexus-edge/serial-driver/internal/domain"
	"github.com/nexus-edge/serial-driver/internal/metrics"
	"github.com/nexus-edge/serial-driver/internal/transport"
	"github.com/nexus-edge/serial-driver/pkg/logging"
)

const (
	serviceName    = "serial-driver"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "/etc/serial-driver/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap := logging.New(serviceName, serviceVersion, logging.Config{})
		bootstrap.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	logger := logging.New(serviceName, serviceVersion, logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logger.Info().Str("config", *configPath).Int("ports", len(cfg.Ports)).Msg("Starting serial driver")

	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bridge is the event sink for every scheduler and the source of
	// asynchronous writes.
	bridge := mqtt.NewBridge(mqtt.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		QoS:         cfg.MQTT.QoS,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)

	schedulerByDevice := make(map[string]*bus.Scheduler)
	var schedulers []*bus.Scheduler

	for i := range cfg.Ports {
		portCfg := &cfg.Ports[i]
		port := transport.NewSerialPort(portCfg.Serial(), logger)

		sched := bus.NewScheduler(port, bridge, bus.SchedulerConfig{
			PollInterval:       portCfg.PollInterval(),
			MaxUnchangedCycles: cfg.MaxUnchangedCycles,
			Debug:              cfg.Debug,
		}, logger, metricsRegistry)

		for j := range portCfg.Devices {
			dev := &portCfg.Devices[j]
			if _, err := sched.AddDevice(dev.SessionConfig()); err != nil {
				logger.Fatal().Err(err).Str("device", dev.ID).Msg("Failed to register device")
			}
			regs, err := dev.BuildRegisters()
			if err != nil {
				logger.Fatal().Err(err).Str("device", dev.ID).Msg("Failed to build registers")
			}
			for _, reg := range regs {
				if err := sched.AddRegister(reg); err != nil {
					logger.Fatal().Err(err).Stringer("register", reg).Msg("Failed to register")
				}
				bridge.Track(reg)
			}
			schedulerByDevice[dev.ID] = sched
			logger.Info().
				Str("device", dev.ID).
				Int("registers", len(regs)).
				Msg("Device configured")
		}
		schedulers = append(schedulers, sched)
	}

	bridge.SetWriter(func(reg *domain.Register, value string) error {
		sched, ok := schedulerByDevice[reg.Device]
		if !ok {
			return domain.ErrDeviceNotFound
		}
		return sched.WriteText(reg, value)
	})

	if err := bridge.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Str("broker", cfg.MQTT.BrokerURL).Msg("Failed to connect to MQTT broker")
	}
	defer bridge.Disconnect()

	for _, sched := range schedulers {
		if err := sched.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	logger.Info().Msg("Serial driver started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received")
	cancel()

	for _, sched := range schedulers {
		if err := sched.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping scheduler")
		}
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down metrics server")
		}
	}

	logger.Info().Msg("Serial driver shutdown complete")
}
