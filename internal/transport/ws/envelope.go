package ws

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event names on the wire.
const (
	EventImage          = "image"
	EventProcessedImage = "processed_image"
	EventMyResponse     = "my response"
	EventError          = "error"
)

// CodeBadMessage reports an envelope the server could not interpret.
const CodeBadMessage = "bad_message"

// Envelope is the JSON frame exchanged with browsers: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusData struct {
	Data string `json:"data"`
}

// DecodeEnvelope parses an inbound text message.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope without event")
	}
	return env, nil
}

// ImagePayload extracts the data-URL string carried by an "image" event.
func (e Envelope) ImagePayload() (string, error) {
	var payload string
	if err := sonic.Unmarshal(e.Data, &payload); err != nil {
		return "", fmt.Errorf("image data must be a string: %w", err)
	}
	return payload, nil
}

// EncodeEnvelope builds an outbound message.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	body, err := sonic.Marshal(data)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(Envelope{Event: event, Data: body})
}
