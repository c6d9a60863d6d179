package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/upstream"
	"github.com/pysugar/gemini-relay/internal/util"
)

// writeError emits the OpenAI-shaped error envelope every surface uses.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    status,
		},
	})
}

// writeExchangeError maps the relay's error kinds onto caller-visible
// status classes: pool exhaustion is service-unavailable, upstream
// refusals are the caller's problem, everything else is a gateway fault.
func writeExchangeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrNoAccountAvailable):
		writeError(w, "No available accounts: "+err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, upstream.ErrRejected):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, upstream.ErrOverloaded):
		// Retries exhausted; the message embeds the last upstream reply.
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
	}
}

// GetOrGenerateRequestID retrieves X-Request-ID from the header or
// generates a new "agent-{uuid}" one.
func GetOrGenerateRequestID(r *http.Request) string {
	if requestId := r.Header.Get("X-Request-ID"); requestId != "" {
		return requestId
	}
	return "agent-" + uuid.New().String()
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// IsVerbose checks if RELAY_VERBOSE is set.
func IsVerbose() bool {
	return util.IsVerbose()
}
