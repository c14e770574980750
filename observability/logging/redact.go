package logging

import (
	"log/slog"
	"sort"
)

// RedactedValue replaces the value of any field that is not on the
// allowlist below.
const RedactedValue = "[REDACTED]"

// redactionAllowlist names the only structured log fields whose values may
// be logged verbatim. Anything else — node public keys, endpoints,
// signatures, certificate material — must go through MaskField.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"event_kind": {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[key]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order, for use
// in tests.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for k := range redactionAllowlist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns value unchanged if key is allowlisted, else returns
// RedactedValue.
func MaskValue(key, value string) string {
	if IsAllowlisted(key) {
		return value
	}
	return RedactedValue
}

// MaskField builds an slog.Attr for key, masking value unless key is
// allowlisted. Every log call site that logs a NodeId, endpoint, or
// signature must go through MaskField.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(key, value))
}
