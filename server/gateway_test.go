package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sre-gateway/api"
	"sre-gateway/config"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// sleeper registra as esperas pedidas e avança o relógio em vez de dormir.
type sleeper struct {
	clock *clock
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	s.clock.Set(s.clock.Now().Add(d))
	return ctx.Err()
}

type countingDataset struct {
	mu    sync.Mutex
	calls int
	inner api.Dataset
}

func (d *countingDataset) Users(ctx context.Context) []api.User {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.inner.Users(ctx)
}

type fixture struct {
	gw      *Gateway
	clock   *clock
	sleeper *sleeper
	dataset *countingDataset
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Rules = []config.RuleConfig{
		{ID: "global-hour", Limit: "1000 per hour"},
		{ID: "root", Limit: "3 per hour", Routes: []string{"/"}},
		{ID: "users", Limit: "5 per minute", Routes: []string{"/api/users"}},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c := &clock{t: time.Date(2026, 6, 1, 9, 0, 10, 0, time.UTC)}
	s := &sleeper{clock: c}
	ds := &countingDataset{inner: api.NewStaticDataset(api.DefaultUsers())}

	gw, err := New(context.Background(), cfg, zerolog.Nop(),
		WithClock(c.Now),
		WithSleeper(s.Sleep),
		WithDataset(ds),
	)
	require.NoError(t, err)
	return &fixture{gw: gw, clock: c, sleeper: s, dataset: ds}
}

func (f *fixture) get(target string, header ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "203.0.113.7:51000"
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGateway_UsersLimitThenReject(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 5; i++ {
		w := f.get("/api/users")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := f.get("/api/users")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Too Many Requests", body["error"])
	assert.Equal(t, "rate limit exceeded: 5 per minute", body["message"])
	// janela de minuto alinhada: 09:00:10 -> reset 09:01:00
	assert.Equal(t, "50", w.Header().Get("Retry-After"))
	assert.Equal(t, 5, f.dataset.calls)

	users := f.gw.Decisions().ByRule()["users"]
	assert.Equal(t, int64(5), users.Allowed)
	assert.Equal(t, int64(1), users.Denied)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.Metrics().RateLimitDecision.WithLabelValues("users", "denied")))
}

func TestGateway_WindowResetsAtBoundary(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 6; i++ {
		f.get("/api/users")
	}
	require.Equal(t, http.StatusTooManyRequests, f.get("/api/users").Code)

	f.clock.Set(time.Date(2026, 6, 1, 9, 0, 59, 999_000_000, time.UTC))
	require.Equal(t, http.StatusTooManyRequests, f.get("/api/users").Code)

	f.clock.Set(time.Date(2026, 6, 1, 9, 1, 0, 0, time.UTC))
	assert.Equal(t, http.StatusOK, f.get("/api/users").Code)
}

func TestGateway_HealthAndMetricsNeverCount(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.Rules = []config.RuleConfig{{ID: "global", Limit: "1 per hour"}}
	})

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, f.get("/health").Code)
	}
	require.Equal(t, http.StatusOK, f.get("/metrics").Code)

	// o único slot global continua livre
	assert.Equal(t, http.StatusOK, f.get("/").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.get("/").Code)
}

func TestGateway_ClientsAreKeyedSeparately(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.KeyHeader = "X-Api-Key"
	})
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.get("/", "X-Api-Key", "a").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.get("/", "X-Api-Key", "a").Code)
	assert.Equal(t, http.StatusOK, f.get("/", "X-Api-Key", "b").Code)
}

func TestGateway_ChaosLatencyDelaysAndServesDataset(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/users?chaos=latency")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []time.Duration{3 * time.Second}, f.sleeper.slept)

	var body api.UsersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, api.DefaultUsers(), body.Users)
	assert.Equal(t, 3, body.Count)
	// o timestamp sai depois da espera
	assert.InDelta(t, float64(time.Date(2026, 6, 1, 9, 0, 13, 0, time.UTC).Unix()), body.Timestamp, 1e-3)
}

func TestGateway_ChaosLatencyAbortCountedAs499(t *testing.T) {
	gw, err := New(context.Background(), config.Default(), zerolog.Nop(),
		WithSleeper(func(context.Context, time.Duration) error { return context.Canceled }),
	)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/users?chaos=latency", nil)
	r.RemoteAddr = "203.0.113.8:51000"
	gw.Handler().ServeHTTP(httptest.NewRecorder(), r)

	m := gw.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/users", "499")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/users", "200")))
}

func TestGateway_ChaosErrorSkipsDataset(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/users?chaos=error")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Equal(t, "Chaos engineering - simulated failure", body["message"])
	assert.Equal(t, 0, f.dataset.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.Metrics().ChaosInjections.WithLabelValues("error")))
}

func TestGateway_UnknownChaosIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.get("/api/users?chaos=meltdown").Code)
	assert.Empty(t, f.sleeper.slept)
}

func TestGateway_RootListsConfiguredRules(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	var body api.RootResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.RateLimits, 3)
	assert.Equal(t, api.RateLimitInfo{ID: "users", Limit: "5 per minute", Routes: []string{"/api/users"}}, body.RateLimits[2])
	assert.Equal(t, "SRE Governance Platform API", body.Service)
}

func TestGateway_NotFoundIsJSONAndCountsGlobally(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.Rules = []config.RuleConfig{{ID: "global", Limit: "1 per hour"}}
	})
	w := f.get("/missing")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", decodeError(t, w)["error"])
	assert.Equal(t, http.StatusTooManyRequests, f.get("/missing").Code)
}

func TestGateway_AccessMetricsUseRouteLabels(t *testing.T) {
	f := newFixture(t, nil)
	f.get("/health")
	f.get("/nope/123")

	m := f.gw.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("other", "404")))
}

func TestGateway_DecisionTallyCollapsesUnknownPaths(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusNotFound, f.get("/scan/"+strconv.Itoa(i)).Code)
	}
	f.get("/api/users")

	routes := f.gw.Decisions().ByRoute()
	assert.Len(t, routes, 2)
	assert.Equal(t, int64(100), routes["GET other"].Allowed)
	assert.Equal(t, int64(1), routes["GET /api/users"].Allowed)
}

func TestGateway_RateLimitDisabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.Enabled = false
		c.RateLimit.Rules = []config.RuleConfig{{ID: "global", Limit: "1 per hour"}}
	})
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, f.get("/").Code)
	}
}

func TestNew_RedisStatsPingFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Stats.Enabled = true
	cfg.Stats.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "redis stats ping"))
}

func TestGateway_ServeHTTPAndGRPCHealth(t *testing.T) {
	cfg := config.Default()
	cfg.GRPCHealthAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second

	gw, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln, grpcLn) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer checkCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: cfg.Service.Name})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
