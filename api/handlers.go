// Package api contém os handlers HTTP do gateway: health, metadados e o
// dataset de usuários.
package api

import (
	"net/http"
	"time"

	"sre-gateway/middleware/respond"
)

const (
	PathHealth  = "/health"
	PathRoot    = "/"
	PathUsers   = "/api/users"
	PathMetrics = "/metrics"
)

type Info struct {
	Service     string // nome usado no /health
	DisplayName string // nome usado no /
	Version     string
}

func DefaultInfo() Info {
	return Info{
		Service:     "sre-governance-api",
		DisplayName: "SRE Governance Platform API",
		Version:     "1.0.0",
	}
}

// RateLimitInfo descreve uma regra para o endpoint de metadados.
type RateLimitInfo struct {
	ID     string   `json:"id"`
	Limit  string   `json:"limit"`
	Routes []string `json:"routes,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type RootResponse struct {
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	RateLimits []RateLimitInfo   `json:"rate_limits"`
	Endpoints  map[string]string `json:"endpoints"`
}

type UsersResponse struct {
	Users     []User  `json:"users"`
	Count     int     `json:"count"`
	Timestamp float64 `json:"timestamp"`
}

type Options struct {
	Info       Info
	Dataset    Dataset
	RateLimits []RateLimitInfo
	// ChaosParam entra nos exemplos do mapa de endpoints.
	ChaosParam string
	// Chaos envolve apenas a rota de usuários.
	Chaos   func(http.Handler) http.Handler
	Metrics http.Handler
	Now     func() time.Time
}

// NewMux registra as rotas. Qualquer rota desconhecida responde 404 JSON.
func NewMux(opts Options) *http.ServeMux {
	if opts.Dataset == nil {
		opts.Dataset = NewStaticDataset(DefaultUsers())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ChaosParam == "" {
		opts.ChaosParam = "chaos"
	}
	if opts.RateLimits == nil {
		opts.RateLimits = []RateLimitInfo{}
	}

	users := http.Handler(Users(opts.Dataset, opts.Now))
	if opts.Chaos != nil {
		users = opts.Chaos(users)
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+PathHealth, Health(opts.Info))
	mux.Handle("GET "+PathUsers, users)
	mux.Handle("GET /{$}", Root(opts.Info, opts.RateLimits, opts.ChaosParam))
	if opts.Metrics != nil {
		mux.Handle("GET "+PathMetrics, opts.Metrics)
	}
	mux.HandleFunc("/", NotFound)
	return mux
}

func Health(info Info) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, HealthResponse{
			Status:  "healthy",
			Service: info.Service,
			Version: info.Version,
		})
	}
}

func Root(info Info, limits []RateLimitInfo, chaosParam string) http.HandlerFunc {
	endpoints := map[string]string{
		"health":        PathHealth,
		"users":         PathUsers,
		"chaos_latency": PathUsers + "?" + chaosParam + "=latency",
		"chaos_error":   PathUsers + "?" + chaosParam + "=error",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, RootResponse{
			Service:    info.DisplayName,
			Version:    info.Version,
			RateLimits: limits,
			Endpoints:  endpoints,
		})
	}
}

func Users(ds Dataset, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := ds.Users(r.Context())
		respond.JSON(w, http.StatusOK, UsersResponse{
			Users:     users,
			Count:     len(users),
			Timestamp: float64(now().UnixNano()) / float64(time.Second),
		})
	}
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	respond.Error(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
}
