package ratelimit

import (
	"net/http"
	"time"

	"sre-gateway/middleware/ratelimit/application"
	"sre-gateway/middleware/ratelimit/infra"
	"sre-gateway/middleware/respond"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Exempt lista paths que não ocupam vaga (ex: /health precisa responder
	// mesmo com o serviço saturado por chaos=latency).
	Exempt []string
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	exempt := make(map[string]struct{}, len(opts.Exempt))
	for _, p := range opts.Exempt {
		exempt[p] = struct{}{}
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			release, ok := svc.Acquire(r.Context())
			if !ok {
				respond.Error(w, opts.RejectStatus, "too many concurrent requests")
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
