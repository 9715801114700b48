package chaos

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeLatency, ParseMode("latency"))
	assert.Equal(t, ModeError, ParseMode("error"))
	assert.Equal(t, ModeNone, ParseMode(""))
	assert.Equal(t, ModeNone, ParseMode("none"))
	assert.Equal(t, ModeNone, ParseMode("LATENCY"))
	assert.Equal(t, ModeNone, ParseMode("explode"))
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func newHandler(opts Options, calls *int) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(opts)(next)
}

func TestMiddleware_NoChaosPassesThrough(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	h := newHandler(Options{Sleep: sleeper.Sleep}, &calls)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.slept)
}

func TestMiddleware_LatencySleepsThenServes(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	sleeper := &recordingSleeper{}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_chaos_total"}, []string{"mode"})
	calls := 0
	h := newHandler(Options{Sleep: sleeper.Sleep, Logger: &logger, Injections: vec}, &calls)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users?chaos=latency", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []time.Duration{DefaultLatency}, sleeper.slept)
	assert.Contains(t, logs.String(), `"chaos_mode":"latency"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(vec.WithLabelValues("latency")))
}

func TestMiddleware_LatencyRealDelayFloor(t *testing.T) {
	calls := 0
	h := newHandler(Options{Latency: 60 * time.Millisecond}, &calls)

	start := time.Now()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users?chaos=latency", nil))

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_LatencyCancelledRequestSkipsHandler(t *testing.T) {
	calls := 0
	h := newHandler(Options{Latency: time.Minute}, &calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodGet, "/api/users?chaos=latency", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, 0, calls)
	assert.Equal(t, StatusClientClosedRequest, w.Code)
}

func TestMiddleware_ErrorShortCircuits(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	calls := 0
	h := newHandler(Options{Logger: &logger}, &calls)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users?chaos=error", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, calls, "dataset handler must not run")

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Equal(t, ErrorMessage, body["message"])
	assert.Contains(t, logs.String(), `"level":"error"`)
}

func TestMiddleware_CustomParam(t *testing.T) {
	calls := 0
	h := newHandler(Options{Param: "fault"}, &calls)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users?fault=error&chaos=latency", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
