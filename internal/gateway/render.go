package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// wireError is the error envelope every non-2xx response carries.
type wireError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders a fault with its mapped status. Callers never pick
// status codes themselves; the kind decides.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, fault.HTTPStatus(err), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	switch fault.KindOf(err) {
	case fault.KindRateLimited:
		if hint := fault.RetryAfter(err); hint > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(hint.Seconds())))
		}
	case fault.KindSessionBusy:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorEnvelope(requestIDFromContext(r.Context()), err))
}

// errorEnvelope is the error body shared by HTTP responses and the websocket.
func errorEnvelope(requestID string, err error) map[string]any {
	we := wireErrorOf(err)
	we.RequestID = requestID
	return map[string]any{
		"type":  "error",
		"error": we,
	}
}

func wireErrorOf(err error) *wireError {
	return &wireError{
		Kind:    string(fault.KindOf(err)),
		Message: err.Error(),
	}
}
