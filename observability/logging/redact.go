package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys the migration stack logs routinely. Addresses, amounts and routes are
// public chain or request data; any other string attribute (tokens,
// passphrases, DSNs) is masked by the handler installed in Setup.
var redactionAllowlist = map[string]struct{}{
	"service":      {},
	"env":          {},
	"message":      {},
	"severity":     {},
	"timestamp":    {},
	"error":        {},
	"reason":       {},
	"component":    {},
	"migration_id": {},
	"source":       {},
	"destination":  {},
	"asset":        {},
	"amount":       {},
	"mode":         {},
	"actor":        {},
	"address":      {},
	"engine":       {},
	"pool":         {},
	"driver":       {},
	"hash":         {},
	"client":       {},
	"fee_bps":      {},
	"previous_bps": {},
	"next_bps":     {},
	"route":        {},
	"method":       {},
	"path":         {},
	"status":       {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redact masks non-empty string attributes whose key is not allowlisted.
// Numbers, durations and errors pass through untouched.
func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
