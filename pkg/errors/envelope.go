package errors

import (
	"encoding/json"
	"net/http"
)

const MaxMessageLen = 512

// ErrorBody is the JSON error shape returned by the HTTP ops surface.
type ErrorBody struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Kind      string `json:"kind,omitempty"`
}

// ErrorEnvelope wraps ErrorBody under a stable top-level key.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// NewEnvelope builds a bounded error envelope. Unknown codes degrade to
// Internal rather than failing.
func NewEnvelope(code Code, msg string) ErrorEnvelope {
	meta, ok := Meta(code)
	if !ok {
		meta, _ = Meta(Internal)
		code = Internal
	}
	if len(msg) > MaxMessageLen {
		msg = msg[:MaxMessageLen]
	}
	return ErrorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   msg,
		Retryable: meta.Retryable,
		Kind:      meta.Kind,
	}}
}

// WriteHTTP renders code and msg as a JSON error response with the status
// registered for the code.
func WriteHTTP(w http.ResponseWriter, code Code, msg string) {
	meta, ok := Meta(code)
	if !ok {
		meta, _ = Meta(Internal)
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(meta.HTTPStatus)
	_ = json.NewEncoder(w).Encode(NewEnvelope(code, msg))
}
