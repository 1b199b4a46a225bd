// Package httpapi is the HTTP surface of the faucet. Handlers are closures
// over a Dependencies bundle and render every response in the uniform
// envelope; transport concerns (credential headers, pagination, SSE framing)
// stay here and never leak into the domain packages.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/faucet"
)

// maxBodyBytes bounds request bodies. Every accepted payload is far below
// this; anything larger is abuse.
const maxBodyBytes = 1 << 16

// envelope is the uniform response shape: {success, message?, data?,
// error?, timestamp}.
type envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// apiError is the machine-readable half of a failure envelope.
type apiError struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// respond writes a success envelope.
func respond(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, envelope{Success: true, Message: message, Data: data})
}

// respondError writes a failure envelope. The HTTP status always comes from
// the code's mapping, so a handler cannot disagree with the error table.
func respondError(w http.ResponseWriter, code errcode.Code, message, details string) {
	writeEnvelope(w, code.HTTPStatus(), envelope{
		Success: false,
		Message: message,
		Error:   &apiError{Code: code.String(), Details: details},
	})
}

// respondDenial renders an admission denial. Rate-limit denials carry a
// Retry-After header in whole seconds, rounded up so a live cooldown can
// never render as zero.
func respondDenial(w http.ResponseWriter, d *faucet.Denial) {
	if d.RetryAfter > 0 {
		secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	respondError(w, d.Code, d.Message, d.Details)
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// decodeBody parses a JSON request body into dst, writing the error response
// itself when the payload is malformed. An empty body decodes to the zero
// value; field-level validation stays with the handler. Returns false when
// the caller should stop.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	respondError(w, errcode.ValidationError, "Invalid request body", err.Error())
	return false
}
