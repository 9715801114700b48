package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"sre-gateway/middleware/ratelimit/domain"
	"sre-gateway/middleware/ratelimit/infra"
)

var (
	testNow   = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	testRules = []domain.Rule{
		{ID: "global-hour", Limit: 100, Window: time.Hour},
		{ID: "root", Limit: 2, Window: time.Hour, Routes: []string{"/"}},
		{ID: "users", Limit: 3, Window: time.Minute, Routes: []string{"/api/users"}},
	}
)

func fixedNow() time.Time { return testNow }

func newTestHandler(t *testing.T, store *infra.Store, calls *int) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return Middleware(Options{
		Store:               store,
		Rules:               testRules,
		Exempt:              []string{"/health"},
		AddRateLimitHeaders: true,
		Now:                 fixedNow,
	})(next)
}

func get(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_LimitPassesThenRejectsWithJSON(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))
	calls := 0
	h := newTestHandler(t, store, &calls)

	for i := 0; i < 3; i++ {
		w := get(h, "/api/users", "10.0.0.1:1234")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	if got := get(h, "/api/users", "10.0.0.1:1234"); got.Code == http.StatusOK {
		t.Fatalf("expected request limit+1 to be rejected")
	}

	w := get(h, "/api/users", "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"error":"Too Many Requests"`) || !strings.Contains(body, "3 per minute") {
		t.Fatalf("unexpected body %q", body)
	}
	// 12:00:30 -> reset 12:01:00
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After=30, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Rule"); got != "users" {
		t.Fatalf("expected rejecting rule users, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected next handler to be called 3 times, got %d", calls)
	}
}

func TestMiddleware_HealthIsExemptFromEveryGate(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))
	calls := 0
	h := newTestHandler(t, store, &calls)

	for i := 0; i < 250; i++ {
		if w := get(h, "/health", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("expected health 200 on call %d, got %d", i+1, w.Code)
		}
	}
	for _, rule := range testRules {
		if got := store.Peek("10.0.0.1", rule); got != 0 {
			t.Fatalf("expected health to leave %s untouched, got %d", rule.ID, got)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("expected no windows created, got %d", store.Len())
	}
}

func TestMiddleware_RouteRulesAreSeparate(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))
	calls := 0
	h := newTestHandler(t, store, &calls)

	for i := 0; i < 2; i++ {
		if w := get(h, "/", "10.0.0.2:1"); w.Code != http.StatusOK {
			t.Fatalf("expected root 200, got %d", w.Code)
		}
	}
	if w := get(h, "/", "10.0.0.2:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected root 429 after 2 calls, got %d", w.Code)
	}
	// users ainda tem cota própria
	if w := get(h, "/api/users", "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Fatalf("expected users 200, got %d", w.Code)
	}
	// global conta tudo que passou pelos portões (inclusive o rejeitado no root)
	if got := store.Peek("10.0.0.2", testRules[0]); got != 4 {
		t.Fatalf("expected global count 4, got %d", got)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{
		Store: store,
		Rules: []domain.Rule{{ID: "one", Limit: 1, Window: time.Minute}},
		Key:   KeyOptions{Header: "X-Api-Key"},
		Now:   fixedNow,
	})(next)

	// duas chaves diferentes => ambas passam (cada chave tem sua janela)
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
}

func TestMiddleware_HeadersOnAllowed(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))
	calls := 0
	h := newTestHandler(t, store, &calls)

	w := get(h, "/api/users", "10.0.0.3:1")
	if got := w.Header().Get("X-RateLimit-Key"); got != "10.0.0.3" {
		t.Fatalf("expected key header, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("expected tightest limit 3, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining 2, got %q", got)
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))
	stats := infra.NewMemoryStatsStore()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Middleware(Options{
		Store: store,
		Stats: stats,
		Rules: []domain.Rule{{ID: "one", Limit: 1, Window: time.Minute}},
		Now:   fixedNow,
	})(next)

	get(h, "/x", "10.0.0.4:1")
	get(h, "/x", "10.0.0.4:1")

	if got := stats.ByRule()["one"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestMiddleware_StatsUseRouteLabel(t *testing.T) {
	store := infra.NewStore(infra.WithClock(fixedNow))
	stats := infra.NewMemoryStatsStore()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	h := Middleware(Options{
		Store: store,
		Stats: stats,
		Rules: []domain.Rule{{ID: "global", Limit: 1000, Window: time.Hour}},
		Route: func(r *http.Request) string {
			if r.URL.Path == "/" {
				return "/"
			}
			return "other"
		},
		Now: fixedNow,
	})(next)

	for i := 0; i < 50; i++ {
		get(h, "/missing/"+strconv.Itoa(i), "10.0.0.5:1")
	}
	get(h, "/", "10.0.0.5:1")

	routes := stats.ByRoute()
	if len(routes) != 2 {
		t.Fatalf("expected 2 route entries, got %d: %v", len(routes), routes)
	}
	if got := routes["GET other"]; got.Allowed != 50 {
		t.Fatalf("unexpected counters for other: %+v", got)
	}
}
