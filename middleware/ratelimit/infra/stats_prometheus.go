package infra

import (
	"context"

	"sre-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore conta decisões em um CounterVec com labels {rule, result}.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStatsStore(decisions *prometheus.CounterVec) *PrometheusStatsStore {
	return &PrometheusStatsStore{decisions: decisions}
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	if s == nil || s.decisions == nil {
		return nil
	}
	rule := string(ev.Rule)
	if rule == "" {
		rule = "none"
	}
	s.decisions.WithLabelValues(rule, decisionField(ev.Allowed)).Inc()
	return nil
}

// FanoutStats repassa o evento para vários stores; devolve o primeiro erro
// mas não interrompe os demais.
type FanoutStats []domain.StatsStore

func (f FanoutStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
