// Package chaos injeta falhas sintéticas (latência ou erro) a partir de um
// parâmetro da requisição, para exercitar monitoração e alertas.
package chaos

import (
	"context"
	"net/http"
	"strings"
	"time"

	"sre-gateway/middleware/respond"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type Mode string

const (
	ModeNone    Mode = "none"
	ModeLatency Mode = "latency"
	ModeError   Mode = "error"
)

// ParseMode só reconhece os valores exatos; qualquer outro vira ModeNone.
func ParseMode(v string) Mode {
	switch Mode(v) {
	case ModeLatency:
		return ModeLatency
	case ModeError:
		return ModeError
	}
	return ModeNone
}

const (
	DefaultParam   = "chaos"
	DefaultLatency = 3 * time.Second

	ErrorMessage = "Chaos engineering - simulated failure"

	// StatusClientClosedRequest marca requisições abortadas pelo cliente
	// durante a latência injetada (convenção do nginx).
	StatusClientClosedRequest = 499
)

// Sleeper bloqueia por d ou até o ctx encerrar.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep é o Sleeper padrão, baseado em timer.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Options struct {
	Param   string
	Latency time.Duration
	Sleep   Sleeper
	Logger  *zerolog.Logger
	// Injections é opcional; labels {mode}.
	Injections *prometheus.CounterVec
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Param == "" {
		opts.Param = DefaultParam
	}
	if opts.Latency <= 0 {
		opts.Latency = DefaultLatency
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	count := func(m Mode) {
		if opts.Injections != nil {
			opts.Injections.WithLabelValues(string(m)).Inc()
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mode := ParseMode(strings.TrimSpace(r.URL.Query().Get(opts.Param)))

			switch mode {
			case ModeLatency:
				logger.Warn().
					Str("chaos_mode", string(mode)).
					Dur("delay", opts.Latency).
					Str("path", r.URL.Path).
					Msg("CHAOS MODE: injecting latency")
				count(mode)
				if err := opts.Sleep(r.Context(), opts.Latency); err != nil {
					// cliente desistiu; o status só chega ao access log e às métricas
					logger.Info().Err(err).Str("chaos_mode", string(mode)).Msg("chaos latency interrupted")
					w.WriteHeader(StatusClientClosedRequest)
					return
				}
			case ModeError:
				logger.Error().
					Str("chaos_mode", string(mode)).
					Str("path", r.URL.Path).
					Msg("CHAOS MODE: simulating 500 error")
				count(mode)
				respond.Error(w, http.StatusInternalServerError, ErrorMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
