// Package accesslog registra uma linha estruturada por requisição e alimenta
// as métricas HTTP. Cada requisição recebe um X-Request-Id (uuid) quando o
// cliente não envia um.
package accesslog

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-Id"

type Options struct {
	Logger *zerolog.Logger
	// Route agrupa paths em labels de baixa cardinalidade. Padrão: path cru.
	Route    func(r *http.Request) string
	Requests *prometheus.CounterVec   // labels {route, code}
	Duration *prometheus.HistogramVec // labels {route}
	Now      func() time.Time
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Route == nil {
		opts.Route = func(r *http.Request) string { return r.URL.Path }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := opts.Now()

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			elapsed := opts.Now().Sub(start)
			route := opts.Route(r)
			if opts.Requests != nil {
				opts.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			}
			if opts.Duration != nil {
				opts.Duration.WithLabelValues(route).Observe(elapsed.Seconds())
			}

			logger.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", elapsed).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}
