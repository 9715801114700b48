package ratelimit

import (
	"net/http"
	"time"

	"sre-gateway/middleware/ratelimit/application"
	"sre-gateway/middleware/ratelimit/domain"
	"sre-gateway/middleware/respond"

	"github.com/rs/zerolog"
)

type Options struct {
	Store domain.WindowStore
	Rules []domain.Rule
	Stats domain.StatsStore
	KeyFn KeyFunc
	Key   KeyOptions
	// Exempt lista paths que não passam por nenhum portão (ex: /health).
	Exempt              []string
	// Route rotula o path nas estatísticas; sem ele, usa r.URL.Path.
	// Deve devolver poucos valores: cada rótulo vira uma entrada no StatsStore.
	Route               func(r *http.Request) string
	RejectStatus        int
	AddRateLimitHeaders bool
	Logger              *zerolog.Logger
	Now                 func() time.Time
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.Key)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Route == nil {
		opts.Route = func(r *http.Request) string { return r.URL.Path }
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	exempt := make(map[string]struct{}, len(opts.Exempt))
	for _, p := range opts.Exempt {
		exempt[p] = struct{}{}
	}

	svc := application.Service{
		Store: opts.Store,
		Now:   opts.Now,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			rules := application.SelectRules(opts.Rules, r.URL.Path)
			if len(rules) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := opts.KeyFn(r)
			dec := svc.Decide(domain.Key(key), rules)

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Rule:    dec.Rule.ID,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    opts.Route(r),
					At:      opts.Now(),
				}); err != nil {
					logger.Debug().Err(err).Msg("rate limit stats record failed")
				}
			}

			if opts.AddRateLimitHeaders {
				h := w.Header()
				h.Set("X-RateLimit-Key", key)
				h.Set("X-RateLimit-Rule", string(dec.Rule.ID))
				h.Set("X-RateLimit-Limit", formatInt64(dec.Window.Limit))
				h.Set("X-RateLimit-Remaining", formatInt64(dec.Window.Remaining()))
				h.Set("X-RateLimit-Reset", formatInt64(dec.Window.ResetAt.Unix()))
			}

			if !dec.Allowed {
				logger.Warn().
					Str("client_key", key).
					Str("rule", string(dec.Rule.ID)).
					Str("limit", dec.Rule.Describe()).
					Str("path", r.URL.Path).
					Dur("retry_after", dec.RetryAfter).
					Msg("rate limit exceeded")
				w.Header().Set("Retry-After", formatInt(int(dec.RetryAfter/time.Second)))
				respond.Error(w, opts.RejectStatus, "rate limit exceeded: "+dec.Rule.Describe())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
