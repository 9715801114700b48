package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sre-gateway/observability"
	"sre-gateway/traffic"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runFlags struct {
	baseURL    string
	chaosParam string
	duration   time.Duration
	interval   time.Duration
	max        int
	progress   int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	root := &cobra.Command{
		Use:           "traffic",
		Short:         "Generate traffic against the gateway (healthy, latency or error)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.baseURL, "url", "http://localhost:8080", "gateway base URL")
	pf.StringVar(&flags.chaosParam, "chaos-param", "chaos", "gateway chaos query parameter")
	pf.DurationVar(&flags.duration, "duration", 0, "override scenario duration")
	pf.DurationVar(&flags.interval, "interval", 0, "override interval between requests")
	pf.IntVar(&flags.max, "max-requests", 0, "stop after N requests (0 = until duration)")
	pf.IntVar(&flags.progress, "progress-every", 50, "log progress every N requests")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level")

	for _, name := range []string{"healthy", "latency", "error"} {
		sc, _ := traffic.ByName(name)
		root.AddCommand(newScenarioCmd(sc, flags))
	}
	return root
}

func newScenarioCmd(sc traffic.Scenario, flags *runFlags) *cobra.Command {
	short := map[string]string{
		"healthy": "Fast successful requests to recover SLO metrics",
		"latency": "Requests with injected latency to trip the p99 alert",
		"error":   "Requests with injected 500s to burn error budget",
	}[sc.Name]

	return &cobra.Command{
		Use:   sc.Name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger(flags.logLevel, "console", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if flags.duration > 0 {
				sc.Duration = flags.duration
			}
			if flags.interval > 0 {
				sc.Interval = flags.interval
			}
			sc.MaxRequests = flags.max

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			runner := &traffic.Runner{
				BaseURL:       flags.baseURL,
				Logger:        logger,
				ProgressEvery: flags.progress,
				ChaosParam:    flags.chaosParam,
			}
			sum, err := runner.Run(ctx, sc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), traffic.Render(sum))
			return nil
		},
	}
}
