package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ilievs/edgesim/config"
	"github.com/ilievs/edgesim/logging"
	"github.com/ilievs/edgesim/system"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("EDGESIM_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, "edgesim-installer", version)

	// Run until interrupted
	ctx, stop := system.OsSignalContext(context.Background(), logger)
	err = RunApplication(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("installer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("installer stopped")
}
