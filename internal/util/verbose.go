package util

import (
	"os"
	"strings"
)

// IsVerbose reports whether RELAY_VERBOSE is set.
// Accepts "1", "true", "yes" (case-insensitive).
func IsVerbose() bool {
	switch strings.ToLower(os.Getenv("RELAY_VERBOSE")) {
	case "1", "true", "yes":
		return true
	}
	return false
}
