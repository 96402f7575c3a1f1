package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dialectica/dialectica/pkg/config"
	"github.com/dialectica/dialectica/pkg/utils"
)

// main starts the debate server and blocks until interrupted.
func main() {
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	}
	cfg, configFile, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("Config loaded", "file", configFile, "provider", cfg.ModelProvider(), "store", cfg.StoreBackend())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	server.Shutdown()
}
