// Command mock runs one simulated device that waits to be installed by the
// backend, then reports readings until it is deleted or interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/core"
	"github.com/ilievs/edgesim/logging"
	"github.com/ilievs/edgesim/mqtt"
	"github.com/ilievs/edgesim/system"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("EDGESIM_CONFIG"), "path to the YAML config file")
	profileName := flag.String("profile", "", "device profile (esp32 or m5stack), overrides device.profile")
	clientID := flag.String("client-id", "", "MQTT client id, overrides mqtt.client_id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *profileName != "" {
		cfg.Device.Profile = *profileName
	}
	if *clientID != "" {
		cfg.MQTT.ClientID = *clientID
	}

	logger := logging.New(cfg.Logging, "edgesim-device", version)

	// App will run until cancelled by user (e.g. ctrl-c)
	ctx, stop := system.OsSignalContext(context.Background(), logger)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("device stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("device stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	profile, err := core.LookupProfile(cfg.Device.Profile)
	if err != nil {
		return err
	}
	policy, err := core.ParseDeletePolicy(cfg.Device.AfterDelete)
	if err != nil {
		return err
	}

	logger.Info("connecting", "url", cfg.MQTT.URL, "protocol", cfg.MQTT.Protocol, "client_id", cfg.MQTT.ClientID)
	transport, err := mqtt.Dial(ctx, cfg.MQTT, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.MQTT.OperationTimeout)
		defer cancel()
		if err := transport.Close(closeCtx); err != nil {
			logger.Error("failed to close mqtt connection", "error", err)
		}
	}()

	agent := core.NewAgent(transport, core.AgentConfig{
		Profile:          profile,
		Namespace:        cfg.Device.Namespace,
		QoS:              byte(cfg.MQTT.QoS),
		SettleDelay:      cfg.Device.SettleDelay,
		AfterDelete:      policy,
		OperationTimeout: cfg.MQTT.OperationTimeout,
	}, logger)

	changes := agent.SubscribeToStateChanges()
	go func() {
		for {
			select {
			case <-changes:
				s := agent.Status()
				logger.Info("device status",
					"state", s.State, "sys_id", s.Identity, "installing", s.Installing,
					"incomplete", s.Incomplete, "subscriptions", s.Subscriptions)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := agent.Start(ctx); err != nil {
		return err
	}

	if cfg.Device.ReadingInterval > 0 {
		go core.RunReporter(ctx, agent, cfg.Device.ReadingInterval, profile.NextValue)
	}

	return agent.Run(ctx)
}
