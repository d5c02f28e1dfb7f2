package config

import (
	"net/url"
	"strings"
)

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if len(cfg.Auth.APIKeys) > 0 {
		keys := make([]string, len(cfg.Auth.APIKeys))
		for i, k := range cfg.Auth.APIKeys {
			keys[i] = maskSecret(k)
		}
		sanitized.Auth.APIKeys = keys
	}
	if sanitized.Transport.Token != "" {
		sanitized.Transport.Token = maskSecret(sanitized.Transport.Token)
	}
	if sanitized.Backup.Passphrase != "" {
		sanitized.Backup.Passphrase = maskSecret(sanitized.Backup.Passphrase)
	}
	sanitized.MsgLog.Postgres.DSN = maskDSN(sanitized.MsgLog.Postgres.DSN)
	sanitized.Events.NATSURL = maskDSN(sanitized.Events.NATSURL)

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// maskDSN hides the password of a URL-style connection string.
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}
