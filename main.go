package main

import (
	"context"
	"log"

	"funnel-server/internal/bootstrap"
	"funnel-server/internal/config"
	"funnel-server/internal/observability"
	"funnel-server/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.Initialize(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize dependencies: %v", err)
	}

	srv := server.New(cfg, deps, logger)
	srv.Setup()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	if err := srv.WaitForShutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
