package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// MarkerToken abre a linha final de confirmação, procurada por ferramentas
// que leem o log para verificar que o processamento terminou.
const MarkerToken = "FORCE_LOG"

var separator = strings.Repeat("=", 60)

// Result é o que uma invocação produziu.
type Result struct {
	Incident     Incident
	Notification Notification
	ProcessedAt  time.Time
}

type flusher interface {
	Flush() error
}

type syncer interface {
	Sync() error
}

// Handler processa um envelope por invocação. Não guarda estado entre
// invocações, então pode ser chamado concorrentemente.
type Handler struct {
	logger    zerolog.Logger
	notifier  Notifier
	recipient string
	marker    io.Writer
	now       func() time.Time
	processed *prometheus.CounterVec
}

type Option func(*Handler)

func WithNotifier(n Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

func WithRecipient(to string) Option {
	return func(h *Handler) { h.recipient = to }
}

// WithMarkerWriter define onde a linha FORCE_LOG é escrita (padrão: stdout).
func WithMarkerWriter(w io.Writer) Option {
	return func(h *Handler) { h.marker = w }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithProcessedCounter conta invocações por resultado (labels {result}).
func WithProcessedCounter(c *prometheus.CounterVec) Option {
	return func(h *Handler) { h.processed = c }
}

func NewHandler(logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		recipient: DefaultRecipient,
		marker:    os.Stdout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.notifier == nil {
		h.notifier = LogNotifier{Logger: logger}
	}
	return h
}

// Handle decodifica o dado (base64 de um JSON) e registra o alerta.
// Erros de decode voltam envolvidos em ErrEnvelopeDecode e nenhuma linha de
// confirmação é escrita.
func (h *Handler) Handle(ctx context.Context, data []byte) (Result, error) {
	inc, err := Decode(data)
	if err != nil {
		h.count("decode_error")
		h.logger.Error().Err(err).Int("size", len(data)).Msg("alert envelope rejected")
		return Result{}, err
	}

	h.logIncident(inc)

	n := NewNotification(h.recipient, inc)
	if err := h.notifier.Notify(ctx, n); err != nil {
		h.count("notify_error")
		h.logger.Error().Err(err).Str("incident_id", inc.IncidentID).Msg("notification failed")
		return Result{}, fmt.Errorf("notify incident %s: %w", inc.IncidentID, err)
	}

	h.logger.Info().Str("incident_id", inc.IncidentID).Msgf("Alert %s processed successfully", inc.IncidentID)

	at := h.now().UTC()
	if err := h.writeMarker(inc.IncidentID, at); err != nil {
		h.count("marker_error")
		return Result{}, fmt.Errorf("write %s marker: %w", MarkerToken, err)
	}
	h.count("processed")
	return Result{Incident: inc, Notification: n, ProcessedAt: at}, nil
}

func (h *Handler) logIncident(inc Incident) {
	l := h.logger.With().
		Str("incident_id", inc.IncidentID).
		Str("policy_name", inc.PolicyName).
		Logger()

	l.Info().Msg(separator)
	l.Info().Msg("ALERT RECEIVED: " + inc.PolicyName)
	l.Info().Msg("Incident ID: " + inc.IncidentID)
	l.Info().Str("condition_name", inc.ConditionName).Msg("Condition: " + inc.ConditionName)
	l.Info().
		Str("state", inc.State).
		Str("severity", inc.Severity).
		Msg("State: " + inc.State + " | Severity: " + inc.Severity)
	l.Info().Str("summary", inc.Summary).Msg("Summary: " + inc.Summary)
	l.Info().Msg(separator)
}

// MarkerLine formata a linha final de confirmação.
func MarkerLine(incidentID string, at time.Time) string {
	return fmt.Sprintf("%s: Alert %s processed at %s", MarkerToken, incidentID, at.UTC().Format(time.RFC3339Nano))
}

// writeMarker escreve direto no writer (fora do pipeline de log) e força o flush.
func (h *Handler) writeMarker(incidentID string, at time.Time) error {
	if h.marker == nil {
		return nil
	}
	if _, err := io.WriteString(h.marker, MarkerLine(incidentID, at)+"\n"); err != nil {
		return err
	}
	switch w := h.marker.(type) {
	case flusher:
		return w.Flush()
	case syncer:
		// stdout pode ser pipe/terminal, onde Sync falha sem problema real
		_ = w.Sync()
	}
	return nil
}

func (h *Handler) count(result string) {
	if h.processed != nil {
		h.processed.WithLabelValues(result).Inc()
	}
}
