// Package traffic gera tráfego contra o gateway para exercitar SLOs e alertas:
// tráfego saudável, gatilho de latência e gatilho de erro.
package traffic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"
)

// Scenario descreve uma execução: alvo, ritmo e duração.
type Scenario struct {
	Name string
	Path string
	// Chaos vira ?chaos=<valor> quando não vazio.
	Chaos    string
	Interval time.Duration
	Duration time.Duration
	Timeout  time.Duration
	// MaxRequests encerra a execução antes da duração (0 = sem limite).
	MaxRequests int
}

func Healthy() Scenario {
	return Scenario{
		Name:     "healthy",
		Path:     "/api/users",
		Interval: 20 * time.Millisecond,
		Duration: 3 * time.Minute,
		Timeout:  5 * time.Second,
	}
}

// Latency dura o bastante para segurar um alerta de p99 com janela de 60s.
func Latency() Scenario {
	return Scenario{
		Name:     "latency",
		Path:     "/api/users",
		Chaos:    "latency",
		Interval: 500 * time.Millisecond,
		Duration: 2 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

func Error() Scenario {
	return Scenario{
		Name:     "error",
		Path:     "/api/users",
		Chaos:    "error",
		Interval: 500 * time.Millisecond,
		Duration: 2 * time.Minute,
		Timeout:  5 * time.Second,
	}
}

func ByName(name string) (Scenario, bool) {
	switch strings.ToLower(name) {
	case "healthy":
		return Healthy(), true
	case "latency":
		return Latency(), true
	case "error":
		return Error(), true
	}
	return Scenario{}, false
}

// Summary agrega uma execução.
type Summary struct {
	Scenario    string
	Target      string
	Total       int
	Success     int
	Failed      int
	RateLimited int
	ServerError int
	Transport   int

	TotalLatency time.Duration
	MaxLatency   time.Duration
	Elapsed      time.Duration
	Interrupted  bool
}

func (s Summary) AvgLatency() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Total)
}

// SuccessRate em porcentagem.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total) * 100
}

func (s Summary) RequestRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Total) / s.Elapsed.Seconds()
}

type Runner struct {
	BaseURL string
	Client  *http.Client
	Logger  zerolog.Logger
	// ProgressEvery loga um resumo parcial a cada N requisições (0 = nunca).
	ProgressEvery int
	// ChaosParam é o nome do parâmetro de chaos do gateway.
	ChaosParam string
	Now        func() time.Time
}

type usersBody struct {
	Count int `json:"count"`
}

// Target monta a URL final do cenário.
func (r *Runner) Target(sc Scenario) (string, error) {
	base, err := url.Parse(strings.TrimRight(r.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", r.BaseURL)
	}
	u := base.JoinPath(sc.Path)
	if sc.Chaos != "" {
		param := r.ChaosParam
		if param == "" {
			param = "chaos"
		}
		q := u.Query()
		q.Set(param, sc.Chaos)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run dispara requisições sequenciais no ritmo do cenário até a duração
// acabar, MaxRequests ser atingido ou ctx ser cancelado. Cancelamento não é
// erro: o resumo parcial volta com Interrupted=true.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Summary, error) {
	target, err := r.Target(sc)
	if err != nil {
		return Summary{}, err
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: sc.Timeout}
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}

	limit := rate.Inf
	if sc.Interval > 0 {
		limit = rate.Every(sc.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	runCtx := ctx
	if sc.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, sc.Duration)
		defer cancel()
	}

	sum := Summary{Scenario: sc.Name, Target: target}
	log := r.Logger.With().Str("scenario", sc.Name).Logger()
	log.Info().Str("target", target).Dur("duration", sc.Duration).Dur("interval", sc.Interval).Msg("traffic started")

	start := now()
	for sc.MaxRequests == 0 || sum.Total < sc.MaxRequests {
		if err := limiter.Wait(runCtx); err != nil {
			break
		}
		r.do(runCtx, client, target, sc, &sum, log)

		if r.ProgressEvery > 0 && sum.Total%r.ProgressEvery == 0 {
			log.Info().
				Int("total", sum.Total).
				Dur("avg_latency", sum.AvgLatency()).
				Float64("success_rate", sum.SuccessRate()).
				Msg("progress")
		}
	}
	sum.Elapsed = now().Sub(start)
	sum.Interrupted = ctx.Err() != nil

	log.Info().
		Int("total", sum.Total).
		Int("success", sum.Success).
		Int("failed", sum.Failed).
		Int("rate_limited", sum.RateLimited).
		Dur("avg_latency", sum.AvgLatency()).
		Bool("interrupted", sum.Interrupted).
		Msg("traffic finished")
	return sum, nil
}

func (r *Runner) do(ctx context.Context, client *http.Client, target string, sc Scenario, sum *Summary, log zerolog.Logger) {
	reqCtx := ctx
	if sc.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, sc.Timeout)
		defer cancel()
	}

	begin := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		sum.Total++
		sum.Failed++
		sum.Transport++
		log.Error().Err(err).Msg("build request")
		return
	}
	resp, err := client.Do(req)
	elapsed := time.Since(begin)
	sum.Total++
	sum.TotalLatency += elapsed
	if elapsed > sum.MaxLatency {
		sum.MaxLatency = elapsed
	}
	if err != nil {
		// fim da execução no meio da requisição não conta como falha do alvo
		if ctx.Err() != nil {
			sum.Total--
			sum.TotalLatency -= elapsed
			return
		}
		sum.Failed++
		sum.Transport++
		log.Warn().Err(err).Int("request", sum.Total).Dur("latency", elapsed).Msg("request failed")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		sum.Success++
		var body usersBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
		log.Debug().Int("request", sum.Total).Int("status", resp.StatusCode).Int("users", body.Count).Dur("latency", elapsed).Msg("ok")
		return
	case resp.StatusCode == http.StatusTooManyRequests:
		sum.RateLimited++
	case resp.StatusCode >= 500:
		sum.ServerError++
	}
	sum.Failed++
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	log.Warn().Int("request", sum.Total).Int("status", resp.StatusCode).Dur("latency", elapsed).Msg("request rejected")
}
