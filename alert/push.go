package alert

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"sre-gateway/middleware/respond"
)

// MaxPushBody limita o corpo aceito numa entrega push.
const MaxPushBody = 1 << 20

type PushResponse struct {
	Status     string `json:"status"`
	IncidentID string `json:"incident_id"`
}

// PushHandler adapta Handler para entregas push HTTP. 2xx confirma a
// mensagem; 4xx/5xx faz o barramento reentregar ou mandar para dead-letter.
func PushHandler(h *Handler, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			respond.Error(w, http.StatusMethodNotAllowed, "push endpoint accepts POST only")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPushBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respond.Error(w, http.StatusRequestEntityTooLarge, "push body exceeds limit")
				return
			}
			respond.Error(w, http.StatusBadRequest, "read push body: "+err.Error())
			return
		}

		req, err := ParsePush(body)
		if err != nil {
			logger.Error().Err(err).Msg("invalid push request")
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := h.Handle(r.Context(), []byte(req.Message.Data))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrEnvelopeDecode) {
				status = http.StatusBadRequest
			}
			logger.Error().Err(err).
				Str("message_id", req.Message.MessageID).
				Str("subscription", req.Subscription).
				Msg("alert processing failed")
			respond.Error(w, status, err.Error())
			return
		}

		respond.JSON(w, http.StatusOK, PushResponse{Status: "processed", IncidentID: res.Incident.IncidentID})
	}
}
