package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sre-gateway/config"
	"sre-gateway/observability"
	"sre-gateway/server"
)

// Preenchido via ldflags no build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "SRE governance API gateway with rate limiting and chaos injection",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env GATEWAY_* overrides it)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (and the optional gRPC health server)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			gw, err := server.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("building gateway: %w", err)
			}
			return gw.Run(ctx)
		},
	}

	printConfig := &cobra.Command{
		Use:   "print-config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}

	root.AddCommand(serve, printConfig)
	return root
}
