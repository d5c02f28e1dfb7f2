package config

import "time"

// ServerConfig is the root configuration for wamesh-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Auth      AuthSection      `koanf:"auth"`
	Sessions  SessionsSection  `koanf:"sessions"`
	Transport TransportSection `koanf:"transport"`
	MsgLog    MsgLogSection    `koanf:"msglog"`
	Events    EventsSection    `koanf:"events"`
	Backup    BackupSection    `koanf:"backup"`
	Telemetry TelemetrySection `koanf:"telemetry"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Address      string        `koanf:"address"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	CORSOrigins  []string      `koanf:"cors_origins"`
	TLSCertFile  string        `koanf:"tls_cert_file"`
	TLSKeyFile   string        `koanf:"tls_key_file"`
}

// AuthSection configures API key checking. An empty key list disables auth.
type AuthSection struct {
	APIKeys   []string        `koanf:"api_keys"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig configures the per-key token bucket. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

// SessionsSection configures the session manager.
type SessionsSection struct {
	// Dir holds one credential directory per session.
	Dir           string          `koanf:"dir"`
	Reconnect     ReconnectConfig `koanf:"reconnect"`
	LogoutTimeout time.Duration   `koanf:"logout_timeout"`
}

// ReconnectConfig bounds reconnection after transient closes.
type ReconnectConfig struct {
	InitialDelay time.Duration `koanf:"initial_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Jitter       bool          `koanf:"jitter"`
	// MaxAttempts is the number of consecutive failures tolerated. 0 means unlimited.
	MaxAttempts int `koanf:"max_attempts"`
}

// TransportSection configures the transport adapter.
type TransportSection struct {
	Driver      string        `koanf:"driver"`
	GatewayURL  string        `koanf:"gateway_url"`
	Token       string        `koanf:"token"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	SendTimeout time.Duration `koanf:"send_timeout"`
	EventQueue  int           `koanf:"event_queue"`
	// CAFile adds PEM roots for verifying a wss:// gateway.
	CAFile string `koanf:"ca_file"`
}

// MsgLogSection configures the message log store.
type MsgLogSection struct {
	Driver          string         `koanf:"driver"`
	Badger          BadgerConfig   `koanf:"badger"`
	Postgres        PostgresConfig `koanf:"postgres"`
	RetentionDays   int            `koanf:"retention_days"`
	CleanupInterval time.Duration  `koanf:"cleanup_interval"`
}

// BadgerConfig configures the embedded log store.
type BadgerConfig struct {
	Dir        string        `koanf:"dir"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// PostgresConfig configures the Postgres log store.
type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// EventsSection configures lifecycle event publishing. An empty URL disables it.
type EventsSection struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// BackupSection configures encrypted S3 backup of credential bundles.
// An empty bucket disables it.
type BackupSection struct {
	Bucket     string `koanf:"bucket"`
	Prefix     string `koanf:"prefix"`
	Region     string `koanf:"region"`
	Endpoint   string `koanf:"endpoint"`
	Passphrase string `koanf:"passphrase"`
	// Pull restores bundles missing locally before sessions are restored.
	Pull bool `koanf:"pull"`
}

// TelemetrySection configures logging and metrics.
type TelemetrySection struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}
