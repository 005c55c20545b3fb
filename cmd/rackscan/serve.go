package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/rackscan/internal/app"
	"github.com/efebarandurmaz/rackscan/internal/server"
)

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with health checks and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.Log, os.Stderr)
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			gs := server.NewGracefulServer(
				&server.HealthConfig{Version: app.Version, Logger: logger},
				&server.ShutdownConfig{Timeout: 30 * time.Second, Logger: logger},
			)
			a.RegisterChecks(gs.Health)
			a.RegisterHooks(gs.Shutdown)

			api := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           server.NewRouter(server.NewHandlers(a.Analyzer, a.Metrics, server.WithImportRoot(cfg.Server.ImportRoot))),
				ReadHeaderTimeout: 10 * time.Second,
			}
			gs.Shutdown.Add(server.HTTPServerShutdownHook("api", api.Shutdown))

			gs.Start(cfg.Server.HealthAddr)
			go func() {
				<-cmd.Context().Done()
				gs.Shutdown.Shutdown()
			}()

			logger.Info("api listening", "addr", cfg.Server.Addr, "health_addr", cfg.Server.HealthAddr)
			serveErr := api.ListenAndServe()
			if errors.Is(serveErr, http.ErrServerClosed) {
				serveErr = nil
			} else {
				gs.Shutdown.Shutdown()
			}
			gs.Wait()
			return serveErr
		},
	}
}
