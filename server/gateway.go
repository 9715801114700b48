// Package server monta o gateway: middlewares, rotas, stores e o ciclo de
// vida dos servidores HTTP e gRPC health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sre-gateway/api"
	"sre-gateway/config"
	"sre-gateway/middleware/accesslog"
	"sre-gateway/middleware/chaos"
	"sre-gateway/middleware/ratelimit"
	"sre-gateway/middleware/ratelimit/domain"
	"sre-gateway/middleware/ratelimit/infra"
	"sre-gateway/observability"
)

type options struct {
	now     func() time.Time
	sleep   chaos.Sleeper
	dataset api.Dataset
	redis   redis.Cmdable
	metrics *observability.Metrics
}

type Option func(*options)

// WithClock fixa o relógio usado pelas janelas e pelo timestamp de /api/users.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithSleeper(s chaos.Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

func WithDataset(ds api.Dataset) Option {
	return func(o *options) { o.dataset = ds }
}

// WithRedis usa um cliente pronto para as estatísticas em vez de criar um a
// partir da configuração.
func WithRedis(rdb redis.Cmdable) Option {
	return func(o *options) { o.redis = rdb }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type Gateway struct {
	cfg     config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	store   *infra.Store
	tally   *infra.MemoryStatsStore
	handler http.Handler
	health  *grpcHealth

	closeRedis func() error
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*Gateway, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     logger,
		metrics:    o.metrics,
		closeRedis: func() error { return nil },
	}

	var rules []domain.Rule
	if cfg.RateLimit.Enabled {
		var err error
		if rules, err = cfg.Rules(); err != nil {
			return nil, err
		}
	}

	storeOpts := []infra.StoreOption{
		infra.WithClock(o.now),
		infra.WithCleanupEvery(cfg.RateLimit.CleanupEvery),
	}
	if cfg.RateLimit.Shards > 0 {
		storeOpts = append(storeOpts, infra.WithShards(cfg.RateLimit.Shards))
	}
	g.store = infra.NewStore(storeOpts...)

	g.tally = infra.NewMemoryStatsStore()
	stats := infra.FanoutStats{g.tally, infra.NewPrometheusStatsStore(o.metrics.RateLimitDecision)}
	if cfg.Stats.Enabled {
		rs, err := g.redisStats(ctx, o.redis)
		if err != nil {
			return nil, err
		}
		stats = append(stats, rs)
	}

	apiLimits := make([]api.RateLimitInfo, 0, len(rules))
	for _, r := range rules {
		apiLimits = append(apiLimits, api.RateLimitInfo{ID: string(r.ID), Limit: r.Describe(), Routes: r.Routes})
	}

	chaosLogger := logger.With().Str("component", "chaos").Logger()
	mux := api.NewMux(api.Options{
		Info: api.Info{
			Service:     cfg.Service.Name,
			DisplayName: cfg.Service.DisplayName,
			Version:     cfg.Service.Version,
		},
		Dataset:    o.dataset,
		RateLimits: apiLimits,
		ChaosParam: cfg.Chaos.Param,
		Chaos: chaos.Middleware(chaos.Options{
			Param:      cfg.Chaos.Param,
			Latency:    cfg.Chaos.Latency,
			Sleep:      o.sleep,
			Logger:     &chaosLogger,
			Injections: o.metrics.ChaosInjections,
		}),
		Metrics: o.metrics.Handler(),
		Now:     o.now,
	})

	h := http.Handler(mux)
	if cfg.RateLimit.Enabled {
		proxies, rejected := ratelimit.NewProxyList(cfg.RateLimit.TrustedProxies)
		for _, cidr := range rejected {
			logger.Warn().Str("cidr", cidr).Msg("ignoring invalid trusted proxy")
		}
		rlLogger := logger.With().Str("component", "ratelimit").Logger()
		h = ratelimit.Middleware(ratelimit.Options{
			Store: g.store,
			Rules: rules,
			Stats: stats,
			Key: ratelimit.KeyOptions{
				Header:             cfg.RateLimit.KeyHeader,
				TrustXForwardedFor: cfg.RateLimit.TrustXFF,
				TrustedProxies:     proxies,
				IPv6Prefix:         cfg.RateLimit.IPv6Prefix,
			},
			Exempt:              cfg.RateLimit.Exempt,
			Route:               routeLabel,
			RejectStatus:        http.StatusTooManyRequests,
			AddRateLimitHeaders: cfg.RateLimit.AddHeaders,
			Logger:              &rlLogger,
			Now:                 o.now,
		})(h)
	}
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Concurrency.AcquireTimeout,
		Exempt:         cfg.RateLimit.Exempt,
	})(h)
	accessLogger := logger.With().Str("component", "http").Logger()
	h = accesslog.Middleware(accesslog.Options{
		Logger:   &accessLogger,
		Route:    routeLabel,
		Requests: o.metrics.RequestsTotal,
		Duration: o.metrics.RequestDuration,
	})(h)

	g.handler = h
	if cfg.GRPCHealthAddr != "" {
		g.health = newGRPCHealth(cfg.Service.Name)
	}
	return g, nil
}

func (g *Gateway) redisStats(ctx context.Context, rdb redis.Cmdable) (domain.StatsStore, error) {
	if rdb == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     g.cfg.Stats.RedisAddr,
			Password: g.cfg.Stats.RedisPassword,
			DB:       g.cfg.Stats.RedisDB,
		})
		g.closeRedis = client.Close
		rdb = client
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = g.closeRedis()
		return nil, fmt.Errorf("redis stats ping %s: %w", g.cfg.Stats.RedisAddr, err)
	}

	return infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(g.cfg.Stats.Prefix),
		infra.WithStatsTTL(g.cfg.Stats.TTL),
		infra.WithStatsBucket(g.cfg.Stats.Bucket),
		infra.WithStatsTrackKeys(g.cfg.Stats.TrackKeys),
	), nil
}

// routeLabel mantém a cardinalidade das métricas limitada às rotas conhecidas.
func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case api.PathRoot, api.PathHealth, api.PathUsers, api.PathMetrics:
		return r.URL.Path
	}
	return "other"
}

func (g *Gateway) Handler() http.Handler { return g.handler }

// Store expõe o store de janelas (usado em testes e no log de shutdown).
func (g *Gateway) Store() *infra.Store { return g.store }

func (g *Gateway) Metrics() *observability.Metrics { return g.metrics }

// Decisions acumula as decisões de rate limit desde o início do processo.
func (g *Gateway) Decisions() *infra.MemoryStatsStore { return g.tally }

// Run escuta no endereço configurado até ctx encerrar.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.cfg.Addr(), err)
	}
	var grpcLn net.Listener
	if g.health != nil {
		grpcLn, err = net.Listen("tcp", g.cfg.GRPCHealthAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen grpc health %s: %w", g.cfg.GRPCHealthAddr, err)
		}
	}
	return g.Serve(ctx, ln, grpcLn)
}

// Serve atende nos listeners dados. grpcLn pode ser nil. Ao cancelar ctx faz
// shutdown gracioso respeitando ShutdownTimeout.
func (g *Gateway) Serve(ctx context.Context, ln, grpcLn net.Listener) error {
	defer func() { _ = g.closeRedis() }()

	g.store.StartJanitor(ctx)

	srv := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// precisa cobrir a latência injetada pelo chaos
		WriteTimeout: 30*time.Second + g.cfg.Chaos.Latency,
		IdleTimeout:  90 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
			return
		}
		errc <- nil
	}()
	if g.health != nil && grpcLn != nil {
		go func() { errc <- g.health.Serve(grpcLn) }()
	}

	g.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("grpc_health_addr", g.cfg.GRPCHealthAddr).
		Bool("rate_limit", g.cfg.RateLimit.Enabled).
		Int("rules", len(g.cfg.RateLimit.Rules)).
		Bool("redis_stats", g.cfg.Stats.Enabled).
		Int("concurrency_max", g.cfg.Concurrency.Max).
		Dur("chaos_latency", g.cfg.Chaos.Latency).
		Msg("gateway listening")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	timeout := g.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if g.health != nil {
		if err := g.health.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn().Err(err).Msg("grpc health forced stop")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn().Err(err).Msg("http shutdown")
		_ = srv.Close()
	}
	total := g.tally.Total()
	byRule := zerolog.Dict()
	for rule, c := range g.tally.ByRule() {
		byRule.Str(string(rule), strconv.FormatInt(c.Allowed, 10)+" allowed / "+strconv.FormatInt(c.Denied, 10)+" denied")
	}
	g.logger.Info().
		Int("windows", g.store.Len()).
		Int64("allowed", total.Allowed).
		Int64("denied", total.Denied).
		Dict("by_rule", byRule).
		Msg("gateway stopped")
	return runErr
}
