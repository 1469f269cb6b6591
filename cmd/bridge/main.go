// Package main is the entry point for the OpenGate bridge daemon. The
// bridge runs next to local agent processes, heartbeats on their behalf,
// and wakes them when unread notifications appear.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/bridge"
	"github.com/opengate/opengate/internal/common/logger"
)

var (
	configFlag    = flag.String("config", "bridge.toml", "Path to the bridge TOML config")
	logLevelFlag  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormatFlag = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      *logLevelFlag,
		Format:     *logFormatFlag,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := bridge.LoadConfig(*configFlag)
	if err != nil {
		log.Fatal("Failed to load bridge config", zap.String("path", *configFlag), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.New(cfg, log).Run(ctx); err != nil {
		log.Fatal("Bridge failed", zap.Error(err))
	}
	log.Info("Bridge stopped")
}
