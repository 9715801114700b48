// Package respond escreve respostas JSON padronizadas.
//
// Todo caminho de falha do serviço responde {error, message} com status
// explícito; nunca corpo vazio.
package respond

import (
	"net/http"

	"github.com/segmentio/encoding/json"
)

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error usa o texto padrão do status como campo "error".
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: http.StatusText(status), Message: message})
}
