package alert

import (
	"context"

	"github.com/rs/zerolog"
)

const DefaultRecipient = "ops-team@example.com"

// Notification é a notificação derivada de um incidente. Aqui ela só é
// construída e registrada em log; a entrega real fica atrás de Notifier.
type Notification struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewNotification(recipient string, inc Incident) Notification {
	if recipient == "" {
		recipient = DefaultRecipient
	}
	return Notification{
		To:      recipient,
		Subject: "ALERT: " + inc.PolicyName,
		Body:    "Incident " + inc.IncidentID + " - " + inc.ConditionName,
	}
}

// Notifier entrega (ou simula a entrega de) uma notificação.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier simula o envio de e-mail escrevendo no log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info().Msg("MOCK EMAIL NOTIFICATION:")
	l.Logger.Info().Str("to", n.To).Msg("  To: " + n.To)
	l.Logger.Info().Str("subject", n.Subject).Msg("  Subject: " + n.Subject)
	l.Logger.Info().Str("body", n.Body).Msg("  Body: " + n.Body)
	return nil
}
