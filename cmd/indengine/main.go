package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ta-enginev1/config"
	"ta-enginev1/internal/indengine"
	"ta-enginev1/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indengine: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "http_addr", cfg.HTTPAddr, "streams", len(cfg.Streams),
		"redis", cfg.Redis.Enabled(), "sqlite", cfg.SQLite.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := indengine.New(ctx, cfg, log)
	if err != nil {
		log.Error("init failed", "error", err)
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}
