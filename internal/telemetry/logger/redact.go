package logger

import (
	"log/slog"
	"strings"
)

// Address suffixes whose user part is masked in log output.
var addressSuffixes = []string{
	"@s.whatsapp.net",
	"@g.us",
	"@lid",
}

// Key patterns whose values are fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"credential",
	"authorization",
	"bearer",
	"challenge",
	"dsn",
}

// Keys carrying message content. Only the length survives.
var contentKeys = map[string]bool{
	"body":    true,
	"message": true,
	"text":    true,
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive masks addresses, drops secrets and hides message content.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		strVal := a.Value.String()
		keyLower := strings.ToLower(a.Key)

		if contentKeys[keyLower] && strVal != "" {
			return slog.Int(a.Key+"_len", len(strVal))
		}
		if strVal != "" && IsSensitiveKey(keyLower) {
			return slog.String(a.Key, redactedValue)
		}
		if IsSensitiveValue(strVal) {
			return slog.String(a.Key, maskAddress(strVal))
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// maskAddress keeps the first and last 3 characters of the user part.
// Format: 555***234@s.whatsapp.net
func maskAddress(value string) string {
	at := strings.IndexByte(value, '@')
	if at < 0 {
		return maskPhone(value)
	}
	return maskPhone(value[:at]) + value[at:]
}

func maskPhone(user string) string {
	if len(user) <= 6 {
		return "***"
	}
	return user[:3] + "***" + user[len(user)-3:]
}

// RedactString masks value if it looks like a network address.
// Use this when a value is embedded in a message rather than an attribute.
func RedactString(value string) string {
	if IsSensitiveValue(value) {
		return maskAddress(value)
	}
	return value
}

// IsSensitiveKey checks if a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// IsSensitiveValue checks if a value is a network address.
func IsSensitiveValue(value string) bool {
	for _, suffix := range addressSuffixes {
		if strings.HasSuffix(value, suffix) && len(value) > len(suffix) {
			return true
		}
	}
	return false
}
