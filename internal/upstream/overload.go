package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOverloaded marks a transient upstream overload condition, the only
// error class the proxy retries.
var ErrOverloaded = errors.New("upstream overloaded")

// ErrRejected marks a non-retryable upstream refusal: the exchange
// completed but produced an error message that is not an overload.
var ErrRejected = errors.New("upstream rejected request")

// The upstream does not distinguish overload from hard failure by status
// code; it phrases it in the reply text. Both known phrasings are matched
// case-insensitively. Brittle against upstream wording changes, which is
// why detection lives behind this one predicate: if a structured error
// code ever appears, only this file changes.
var overloadMarkers = []string{
	"ask me again later",
	"more images than usual",
}

// IsOverloaded reports whether an upstream message carries the overload
// signature.
func IsOverloaded(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range overloadMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ExhaustedError is returned when the retry ceiling is hit; it embeds the
// last upstream message so callers can diagnose.
func ExhaustedError(attempts int, lastMsg string) error {
	return fmt.Errorf("%w: rate limited after %d attempts: %s", ErrOverloaded, attempts, lastMsg)
}
