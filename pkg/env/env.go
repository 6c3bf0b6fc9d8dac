// Package env reads raw environment variables for the few knobs that must be
// resolved before the typed config is loaded, like the bootstrap logger's
// output format.
package env

import (
	"os"
	"strings"
)

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
