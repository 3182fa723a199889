package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/installer"
	"github.com/ilievs/edgesim/mqtt"
)

const shutdownTimeout = 5 * time.Second

// RunApplication runs the embedded broker, the installer and its HTTP API
// until ctx ends.
func RunApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := installer.NewRegistry(logger)

	broker := mqtt.NewMochiBroker(mqtt.NewServer(logger), cfg.Broker, cfg.Installer.Namespace, logger)
	err := broker.Start(
		[]mochi.Hook{new(mqtt.SessionHook)},
		[]any{&mqtt.SessionHookOptions{Tracker: registry, Logger: logger}})
	if err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Error("failed to close broker", "error", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := installer.NewMetrics(promRegistry, registry)

	inst := installer.New(mqtt.NewInlineClient(broker), registry, metrics, cfg.Installer, byte(cfg.MQTT.QoS), logger)
	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("starting installer: %w", err)
	}

	stateChangesChan := registry.SubscribeToStateChanges()
	go func() {
		for {
			select {
			case dev := <-stateChangesChan:
				logger.Info("device state changed", "sys_id", dev.SysID, "state", dev.State, "device", dev.Device)
			case <-ctx.Done():
				return
			}
		}
	}()

	server := installer.NewServer(inst, metrics, logger)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.API.Address)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving http api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http api: %w", err)
	}
	return nil
}
