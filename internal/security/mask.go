package security

import "strings"

// Mask obscures a sensitive value for logging, keeping just enough of the
// head and tail to correlate log lines.
func Mask(value string) string {
	if len(value) <= 4 {
		return "[REDACTED]"
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
