package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr     = "0.0.0.0:3000"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 60 * time.Second
	DefaultIdleTimeout  = 120 * time.Second

	DefaultSessionsDir   = "./sessions"
	DefaultLogoutTimeout = 10 * time.Second

	DefaultReconnectInitialDelay = 500 * time.Millisecond
	DefaultReconnectMultiplier   = 2.0
	DefaultReconnectMaxDelay     = 30 * time.Second

	DriverWSBridge     = "wsbridge"
	DefaultGatewayURL  = "ws://127.0.0.1:9000/v1"
	DefaultDialTimeout = 10 * time.Second
	DefaultSendTimeout = 30 * time.Second
	DefaultEventQueue  = 64

	DefaultMsgLogDriver     = "badger"
	DefaultBadgerDir        = "./data/msglog"
	DefaultRetentionDays    = 90
	DefaultCleanupInterval  = 24 * time.Hour
	DefaultBadgerGCInterval = 10 * time.Minute

	DefaultSubjectPrefix = "wamesh"
	DefaultBackupPrefix  = "sessions"
	DefaultBackupRegion  = "us-east-1"

	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultMetricsPath = "/metrics"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Address:      DefaultHTTPAddr,
				ReadTimeout:  DefaultReadTimeout,
				WriteTimeout: DefaultWriteTimeout,
				IdleTimeout:  DefaultIdleTimeout,
				CORSOrigins:  []string{"*"},
			},
		},
		Auth: AuthSection{
			RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		},
		Sessions: SessionsSection{
			Dir:           DefaultSessionsDir,
			LogoutTimeout: DefaultLogoutTimeout,
			Reconnect: ReconnectConfig{
				InitialDelay: DefaultReconnectInitialDelay,
				Multiplier:   DefaultReconnectMultiplier,
				MaxDelay:     DefaultReconnectMaxDelay,
				Jitter:       true,
			},
		},
		Transport: TransportSection{
			Driver:      DriverWSBridge,
			GatewayURL:  DefaultGatewayURL,
			DialTimeout: DefaultDialTimeout,
			SendTimeout: DefaultSendTimeout,
			EventQueue:  DefaultEventQueue,
		},
		MsgLog: MsgLogSection{
			Driver: DefaultMsgLogDriver,
			Badger: BadgerConfig{
				Dir:        DefaultBadgerDir,
				GCInterval: DefaultBadgerGCInterval,
			},
			Postgres:        PostgresConfig{MaxOpenConns: 10},
			RetentionDays:   DefaultRetentionDays,
			CleanupInterval: DefaultCleanupInterval,
		},
		Events: EventsSection{
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Backup: BackupSection{
			Prefix: DefaultBackupPrefix,
			Region: DefaultBackupRegion,
		},
		Telemetry: TelemetrySection{
			Log: LogConfig{
				Level:  DefaultLogLevel,
				Format: DefaultLogFormat,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
		},
	}
}
