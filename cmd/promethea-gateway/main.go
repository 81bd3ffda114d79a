// Package main provides the CLI entry point for the Promethea gateway: an
// HTTP/SSE front door over a turn-taking conversation engine with tool use
// and long-term semantic memory.
//
// # Basic Usage
//
// Start the server:
//
//	promethea-gateway serve --config promethea.yaml
//
// Check configuration and component health:
//
//	promethea-gateway doctor --config promethea.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dndcreator/promethea-gateway/internal/config"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "promethea-gateway",
		Short: "Promethea gateway - HTTP/SSE conversation gateway with tools and memory",
		Long: `Promethea gateway terminates chat traffic over HTTP and SSE, runs it through
a turn engine that streams LLM responses, interleaves tool calls (with an
approval gate for sensitive ones), and backs recall with a semantic memory
graph.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildDoctorCmd(), buildMigrateConfigCmd(), buildVersionCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway's HTTP/SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "promethea.yaml", "path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "promethea.yaml", "path to YAML configuration file")
	return cmd
}

func buildMigrateConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate-config",
		Short: "Report whether the configuration file needs a version migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateConfig(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "promethea.yaml", "path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "promethea-gateway %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	raw, err := config.LoadRaw(configPath)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "config: FAIL (%v)\n", err)
		return err
	}
	cfgVersion, _ := raw["version"].(int)
	if err := config.ValidateVersion(cfgVersion); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "config: FAIL (%v)\n", err)
		return err
	}
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "config: FAIL (%v)\n", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config: OK (version %d)\n", cfgVersion)
	return nil
}

func runMigrateConfig(cmd *cobra.Command, configPath string) error {
	raw, err := config.LoadRaw(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgVersion, _ := raw["version"].(int)
	if err := config.ValidateVersion(cfgVersion); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "up to date (version %d)\n", cfgVersion)
		return nil
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "needs migration: %v (target version %d)\n", err, config.CurrentVersion)
	}
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	slog.Info("starting promethea gateway", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := buildApp(cfg, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if app.Memory != nil {
		go app.Memory.Run(ctx)
	}

	if err := app.HTTP.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	slog.Info("promethea gateway started", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.HTTP.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := app.Scheduler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("scheduler did not drain before timeout", "error", err)
	}
	slog.Info("promethea gateway stopped")
	return nil
}
