package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/rackscan/internal/app"
	"github.com/efebarandurmaz/rackscan/internal/config"
)

type globalFlags struct {
	configPath string
	format     string
	logLevel   string
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "rackscan",
		Short:         "Nested chain discovery and compliance validation for rack files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file path (default ./rackscan.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.format, "format", "text", "Output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		analyzeCmd(&g),
		importCmd(&g),
		validateCmd(&g),
		reportCmd(&g),
		hierarchyCmd(&g),
		statsCmd(&g),
		previewCmd(&g),
		submitCmd(&g),
		serveCmd(&g),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads config and applies command-line overrides.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

// withApp builds the runtime for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.NewLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(context.Background()); err != nil {
		a.Logger.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}
