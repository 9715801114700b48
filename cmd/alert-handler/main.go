package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sre-gateway/alert"
	"sre-gateway/observability"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	logLevel  string
	logFormat string
	recipient string
}

func (f *rootFlags) handler(logger zerolog.Logger, metrics *observability.Metrics) *alert.Handler {
	opts := []alert.Option{alert.WithRecipient(f.recipient)}
	if metrics != nil {
		opts = append(opts, alert.WithProcessedCounter(metrics.AlertsProcessed))
	}
	return alert.NewHandler(logger, opts...)
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "alert-handler",
		Short:         "Decode monitoring alert envelopes and emit incident logs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json", "log format: json or console")
	root.PersistentFlags().StringVar(&flags.recipient, "recipient", alert.DefaultRecipient, "notification recipient")

	root.AddCommand(newServeCmd(flags), newProcessCmd(flags))
	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept push deliveries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger(flags.logLevel, flags.logFormat, os.Stdout)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":8080"
				if port := os.Getenv("PORT"); port != "" {
					addr = ":" + port
				}
			}

			metrics := observability.NewMetrics()
			h := flags.handler(logger, metrics)

			mux := http.NewServeMux()
			mux.Handle("/", alert.PushHandler(h, logger))
			mux.Handle("GET /metrics", metrics.Handler())

			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       90 * time.Second,
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info().Str("addr", addr).Msg("alert handler listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT or :8080)")
	return cmd
}

func newProcessCmd(flags *rootFlags) *cobra.Command {
	var (
		file string
		push bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one envelope from --file or stdin",
		Long: `Process a single alert envelope.

By default the input is the base64 message data. With --push the input is a
full push delivery body ({"message":{"data":...}}).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger(flags.logLevel, flags.logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open envelope: %w", err)
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(io.LimitReader(in, alert.MaxPushBody+1))
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}
			if len(data) > alert.MaxPushBody {
				return fmt.Errorf("envelope exceeds limit of %d bytes", alert.MaxPushBody)
			}
			if push {
				req, err := alert.ParsePush(data)
				if err != nil {
					return err
				}
				data = []byte(req.Message.Data)
			}

			h := alert.NewHandler(logger,
				alert.WithRecipient(flags.recipient),
				alert.WithMarkerWriter(cmd.OutOrStdout()),
			)
			_, err = h.Handle(cmd.Context(), data)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "envelope file (default stdin)")
	cmd.Flags().BoolVar(&push, "push", false, "input is a push delivery body")
	return cmd
}
