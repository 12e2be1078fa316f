package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive field values in log output.
const RedactedValue = "[REDACTED]"

// Keys that may appear in logs verbatim. Everything else routed through
// MaskField is replaced with RedactedValue, so new fields default to masked.
var redactionAllowlist = map[string]struct{}{
	"addr":      {},
	"asset":     {},
	"component": {},
	"env":       {},
	"error":     {},
	"escrow":    {},
	"message":   {},
	"method":    {},
	"reason":    {},
	"seq":       {},
	"service":   {},
	"severity":  {},
	"timestamp": {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue masks non-empty values. Empty strings pass through so absent
// fields stay readable.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog.Attr whose value is masked unless the key is
// allowlisted. The caller's key casing is preserved.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
