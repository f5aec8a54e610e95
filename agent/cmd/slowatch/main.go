package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/slowatch/agent/internal/config"
	"github.com/obsidianstack/slowatch/agent/internal/deploys"
	"github.com/obsidianstack/slowatch/agent/internal/registry"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "slowatch",
	Short: "Periodic SLO monitor",
	Long: `slowatch polls a Prometheus-compatible backend for a configured set of
per-service SLO queries, stores every measurement in Postgres and exports the
worst performer of each cycle as the delta_slo gauge.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the evaluation loop and serve /metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx, configPath)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the config and SLO files, report problems and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		reg, err := registry.LoadFile(cfg.Agent.SLOConfig)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config:   %s\n", configPath)
		fmt.Fprintf(out, "backend:  %s\n", cfg.Backend.Endpoint)
		fmt.Fprintf(out, "queries:  %d across %d services\n", reg.Len(), len(reg.Services()))

		if cfg.Deployments.Enabled {
			apps, err := deploys.LoadApps(cfg.Deployments.Config)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deploys:  %d apps in %s\n", len(apps), cfg.Deployments.Environment)
		}
		if cfg.Incidents.Enabled {
			fmt.Fprintf(out, "incidents: %d teams\n", len(cfg.Incidents.TeamIDs))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
