// Package alert recebe eventos de alerta entregues por um barramento externo
// (push do Pub/Sub), decodifica o envelope, extrai o incidente com defaults
// por campo e produz o log do alerta mais uma notificação simulada.
package alert

import (
	"strconv"

	"github.com/segmentio/encoding/json"
)

const (
	DefaultValue   = "unknown"
	DefaultSummary = "No summary"
)

// Incident é o alerta normalizado. Todo campo tem valor, mesmo quando o
// payload omite o caminho correspondente.
type Incident struct {
	IncidentID    string `json:"incident_id"`
	ConditionName string `json:"condition_name"`
	Summary       string `json:"summary"`
	State         string `json:"state"`
	Severity      string `json:"severity"`
	PolicyName    string `json:"policy_name"`
}

// extractIncident aplica o acessor com default a cada campo, de forma
// independente: um campo ausente não afeta os outros.
func extractIncident(root map[string]any) Incident {
	return Incident{
		IncidentID:    lookupString(root, DefaultValue, "incident", "incident_id"),
		ConditionName: lookupString(root, DefaultValue, "incident", "condition_name"),
		Summary:       lookupString(root, DefaultSummary, "incident", "summary"),
		State:         lookupString(root, DefaultValue, "incident", "state"),
		Severity:      lookupString(root, DefaultValue, "incident", "severity"),
		PolicyName:    lookupString(root, DefaultValue, "incident", "policy_name"),
	}
}

// lookupString percorre path a partir de root. Nó intermediário ausente ou
// que não seja objeto, folha ausente ou null: devolve def. Números mantêm o
// texto do payload; bools viram texto.
func lookupString(root map[string]any, def string, path ...string) string {
	var cur any = root
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = obj[p]
		if !ok {
			return def
		}
	}
	switch v := cur.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return def
}
