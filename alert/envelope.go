package alert

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/encoding/json"
)

// ErrEnvelopeDecode marca falhas irrecuperáveis de decodificação (base64 ou
// JSON). O chamador deve devolvê-las ao barramento (retry / dead-letter).
var ErrEnvelopeDecode = errors.New("envelope decode failed")

// PushRequest é o corpo de uma entrega push do Pub/Sub.
type PushRequest struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

type PushMessage struct {
	// Data é o payload do alerta em base64.
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// ParsePush lê o corpo push; corpo inválido ou sem message.data é erro de decode.
func ParsePush(body []byte) (PushRequest, error) {
	var req PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return PushRequest{}, fmt.Errorf("%w: push body: %v", ErrEnvelopeDecode, err)
	}
	if req.Message.Data == "" {
		return PushRequest{}, fmt.Errorf("%w: push body has no message.data", ErrEnvelopeDecode)
	}
	return req, nil
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// DecodeData faz as duas camadas: base64 -> JSON objeto.
func DecodeData(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", ErrEnvelopeDecode)
	}

	var (
		raw    []byte
		decErr error
	)
	for _, enc := range base64Encodings {
		buf := make([]byte, enc.DecodedLen(len(data)))
		n, err := enc.Decode(buf, data)
		if err == nil {
			raw = buf[:n]
			decErr = nil
			break
		}
		if decErr == nil {
			decErr = err
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrEnvelopeDecode, decErr)
	}

	// números ficam como json.Number para não perder dígitos de IDs
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrEnvelopeDecode, err)
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, fmt.Errorf("%w: json: trailing data after payload", ErrEnvelopeDecode)
	}
	root, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is %T, want JSON object", ErrEnvelopeDecode, payload)
	}
	return root, nil
}

// Decode devolve o incidente normalizado a partir do dado base64.
func Decode(data []byte) (Incident, error) {
	root, err := DecodeData(data)
	if err != nil {
		return Incident{}, err
	}
	return extractIncident(root), nil
}
