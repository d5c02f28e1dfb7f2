package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Verify validates the configuration and creates the sessions directory.
func Verify(cfg *ServerConfig) error {
	checks := []func(*ServerConfig) error{
		verifyServer,
		verifySessions,
		verifyTransport,
		verifyMsgLog,
		verifyBackup,
		verifyTelemetry,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyServer(cfg *ServerConfig) error {
	h := cfg.Server.HTTP
	if _, _, err := net.SplitHostPort(h.Address); err != nil {
		return fmt.Errorf("server.http.address %q: %w", h.Address, err)
	}
	if (h.TLSCertFile == "") != (h.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	if cfg.Auth.RateLimit.RPS < 0 {
		return errors.New("auth.rate_limit.rps must not be negative")
	}
	if cfg.Auth.RateLimit.RPS > 0 && cfg.Auth.RateLimit.Burst < 1 {
		return errors.New("auth.rate_limit.burst must be at least 1 when rps is set")
	}
	for _, k := range cfg.Auth.APIKeys {
		if strings.TrimSpace(k) == "" {
			return errors.New("auth.api_keys must not contain empty keys")
		}
	}
	return nil
}

func verifySessions(cfg *ServerConfig) error {
	s := cfg.Sessions
	if s.Dir == "" {
		return errors.New("sessions.dir is required")
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("cannot create sessions directory: %w", err)
	}

	r := s.Reconnect
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		return errors.New("sessions.reconnect delays must not be negative")
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		return errors.New("sessions.reconnect.multiplier must be at least 1")
	}
	if r.MaxAttempts < 0 {
		return errors.New("sessions.reconnect.max_attempts must not be negative")
	}
	return nil
}

func verifyTransport(cfg *ServerConfig) error {
	t := cfg.Transport
	if t.Driver != DriverWSBridge {
		return fmt.Errorf("transport.driver %q is not supported", t.Driver)
	}
	u, err := url.Parse(t.GatewayURL)
	if err != nil {
		return fmt.Errorf("transport.gateway_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("transport.gateway_url scheme %q must be ws or wss", u.Scheme)
	}
	if t.CAFile != "" {
		if _, err := os.Stat(t.CAFile); err != nil {
			return fmt.Errorf("transport.ca_file: %w", err)
		}
	}
	return nil
}

func verifyMsgLog(cfg *ServerConfig) error {
	m := cfg.MsgLog
	switch m.Driver {
	case "badger":
		if m.Badger.Dir == "" && !m.Badger.InMemory {
			return errors.New("msglog.badger.dir is required unless in_memory is set")
		}
	case "postgres":
		if m.Postgres.DSN == "" {
			return errors.New("msglog.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("msglog.driver %q must be badger or postgres", m.Driver)
	}
	if m.RetentionDays < 1 {
		return errors.New("msglog.retention_days must be at least 1")
	}
	return nil
}

func verifyBackup(cfg *ServerConfig) error {
	b := cfg.Backup
	if b.Bucket == "" {
		return nil
	}
	if len(b.Passphrase) < 12 {
		return errors.New("backup.passphrase must be at least 12 characters when backup is enabled")
	}
	return nil
}

func verifyTelemetry(cfg *ServerConfig) error {
	switch strings.ToLower(cfg.Telemetry.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("telemetry.log.level %q is not a log level", cfg.Telemetry.Log.Level)
	}
	m := cfg.Telemetry.Metrics
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return errors.New("telemetry.metrics.path must start with /")
	}
	return nil
}
