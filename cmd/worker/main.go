package main

import (
	"context"
	"log"
	"os"
	"syscall"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/rackscan/internal/app"
	"github.com/efebarandurmaz/rackscan/internal/config"
	"github.com/efebarandurmaz/rackscan/internal/server"
	temporalmod "github.com/efebarandurmaz/rackscan/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{Analyzer: a.Analyzer})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		_ = a.Close(context.Background())
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		_ = a.Close(context.Background())
		log.Fatalf("worker: %v", err)
	}

	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: app.Version, Logger: logger},
		&server.ShutdownConfig{
			Timeout: 30 * time.Second,
			Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
			Logger:  logger,
		},
	)
	a.RegisterChecks(gs.Health)
	a.RegisterHooks(gs.Shutdown)
	gs.Shutdown.Add(server.TemporalWorkerShutdownHook(w.Stop))

	gs.Start(cfg.Server.HealthAddr)
	logger.Info("worker started", "task_queue", cfg.Temporal.TaskQueue, "health_addr", cfg.Server.HealthAddr)

	gs.Wait()
	logger.Info("worker stopped")
}
