package application

import (
	"time"

	"sre-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// As regras são portões independentes de janela fixa: todas precisam passar.
// A avaliação segue a ordem recebida (do mais global ao mais específico) e
// para no primeiro bloqueio; portões já avaliados mantêm o incremento.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store domain.WindowStore
	Now   func() time.Time
}

func (s Service) Decide(key domain.Key, rules []domain.Rule) domain.Decision {
	if s.Store == nil || len(rules) == 0 {
		return domain.Decision{Allowed: true}
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	var (
		tightest domain.Decision
		found    bool
	)
	for _, rule := range rules {
		w := s.Store.Hit(key, rule)
		if !w.Allowed {
			return domain.Decision{
				Allowed:    false,
				Rule:       rule,
				Window:     w,
				RetryAfter: retryAfter(w.ResetAt.Sub(now())),
			}
		}
		if !found || w.Remaining() < tightest.Window.Remaining() {
			tightest = domain.Decision{Allowed: true, Rule: rule, Window: w}
			found = true
		}
	}
	return tightest
}

// retryAfter arredonda para cima em segundos (Retry-After é inteiro) e nunca
// devolve menos que 1s.
func retryAfter(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// SelectRules devolve as regras aplicáveis ao path: globais primeiro, depois
// as de rota, preservando a ordem de configuração dentro de cada grupo.
func SelectRules(rules []domain.Rule, path string) []domain.Rule {
	out := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Global() {
			out = append(out, r)
		}
	}
	for _, r := range rules {
		if !r.Global() && r.Matches(path) {
			out = append(out, r)
		}
	}
	return out
}
