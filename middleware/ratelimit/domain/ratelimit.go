package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"strconv"
	"time"
)

type Key string

type RuleID string

// Rule é um portão de janela fixa: no máximo Limit requisições por Window,
// por chave de cliente.
//
// Routes vazio significa regra global (vale para toda rota não isenta).
type Rule struct {
	ID     RuleID
	Limit  int64
	Window time.Duration
	Routes []string
}

// Global indica se a regra vale para todas as rotas.
func (r Rule) Global() bool { return len(r.Routes) == 0 }

// Matches indica se a regra se aplica ao path informado.
func (r Rule) Matches(path string) bool {
	if r.Global() {
		return true
	}
	for _, route := range r.Routes {
		if route == path {
			return true
		}
	}
	return false
}

// Describe retorna a regra no formato "50 per minute".
func (r Rule) Describe() string {
	return strconv.FormatInt(r.Limit, 10) + " per " + DescribeWindow(r.Window)
}

// DescribeWindow nomeia as janelas usuais; outras caem no formato de time.Duration.
func DescribeWindow(d time.Duration) string {
	switch d {
	case time.Second:
		return "second"
	case time.Minute:
		return "minute"
	case time.Hour:
		return "hour"
	case 24 * time.Hour:
		return "day"
	}
	return d.String()
}

// Window é o estado de uma janela fixa (chave, regra, início) após um Hit.
type Window struct {
	Start   time.Time
	ResetAt time.Time
	Count   int64
	Limit   int64
	Allowed bool
}

// Remaining é quanto ainda cabe na janela corrente.
func (w Window) Remaining() int64 {
	if w.Count >= w.Limit {
		return 0
	}
	return w.Limit - w.Count
}

// WindowStore mantém os contadores por (chave, regra, janela).
//
// Hit precisa ser atômico: localizar/criar a janela corrente, comparar com o
// limite e incrementar acontecem sob o mesmo lock, senão duas requisições
// concorrentes podem ver count < limit e ambas passarem.
type WindowStore interface {
	Hit(key Key, rule Rule) Window
}

type Decision struct {
	Allowed bool
	// Rule é a regra que bloqueou (quando Allowed=false) ou a mais restritiva
	// entre as que passaram.
	Rule   Rule
	Window Window
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
