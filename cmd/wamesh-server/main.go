package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/service"
	"github.com/yndnr/wamesh-go/internal/events"
	"github.com/yndnr/wamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/wamesh-go/internal/infra/confloader"
	"github.com/yndnr/wamesh-go/internal/infra/shutdown"
	"github.com/yndnr/wamesh-go/internal/infra/tlsroots"
	"github.com/yndnr/wamesh-go/internal/server/config"
	"github.com/yndnr/wamesh-go/internal/server/httpserver"
	"github.com/yndnr/wamesh-go/internal/storage/credstore"
	"github.com/yndnr/wamesh-go/internal/storage/msglog"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
	"github.com/yndnr/wamesh-go/internal/telemetry/metric"
	"github.com/yndnr/wamesh-go/internal/transport/wsbridge"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("wamesh-server " + buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Telemetry.Log.Level,
		Format:  cfg.Telemetry.Log.Format,
		Output:  os.Stdout,
		Service: "wamesh-server",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogLogger := logger.Slog(log)

	info := buildinfo.Get()
	log.Info("starting wamesh-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile,
		"settings", config.Sanitize(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownHandler := shutdown.NewHandler(shutdownTimeout, log)
	registry := metric.Global()

	// Hooks run in reverse registration order, so register them in
	// startup order: stores first, HTTP last.

	credentials, err := initCredentials(ctx, cfg, slogLogger)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	// Drains queued backup uploads once the sessions are stopped.
	shutdownHandler.OnShutdown("credentials", credentials.Close)

	logs, err := initMessageLog(ctx, cfg, slogLogger, registry)
	if err != nil {
		return fmt.Errorf("init message log: %w", err)
	}
	shutdownHandler.OnShutdown("msglog", func(context.Context) error {
		return logs.Close()
	})

	publisher, err := initPublisher(cfg)
	if err != nil {
		return fmt.Errorf("init event publisher: %w", err)
	}
	shutdownHandler.OnShutdown("events", func(context.Context) error {
		return publisher.Close()
	})

	bridgeCfg := wsbridge.Config{
		GatewayURL:  cfg.Transport.GatewayURL,
		Token:       cfg.Transport.Token,
		DialTimeout: cfg.Transport.DialTimeout,
		SendTimeout: cfg.Transport.SendTimeout,
		EventQueue:  cfg.Transport.EventQueue,
	}
	if cfg.Transport.CAFile != "" {
		if bridgeCfg.TLS, err = tlsroots.ClientConfig(cfg.Transport.CAFile); err != nil {
			return fmt.Errorf("init transport: %w", err)
		}
	}
	transports, err := wsbridge.NewFactory(bridgeCfg, slogLogger)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}

	rc := cfg.Sessions.Reconnect
	sessions := service.NewSessionManager(service.ManagerConfig{
		Transports:  transports,
		Credentials: credentials,
		Publisher:   publisher,
		Metrics:     registry,
		Logger:      log,
		Reconnect: service.ReconnectPolicy{
			InitialDelay: rc.InitialDelay,
			Multiplier:   rc.Multiplier,
			MaxDelay:     rc.MaxDelay,
			Jitter:       rc.Jitter,
			MaxAttempts:  rc.MaxAttempts,
		},
		LogoutTimeout: cfg.Sessions.LogoutTimeout,
	})
	shutdownHandler.OnShutdown("sessions", sessions.Close)

	result, err := sessions.RestoreSessions(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	log.Info("sessions restored",
		"restored", len(result.Restored),
		"degraded", len(result.Degraded),
		"failed", len(result.Failed))

	messages := service.NewMessageService(sessions, logs, publisher, registry)
	go messages.RunCleaner(ctx, cfg.MsgLog.CleanupInterval, cfg.MsgLog.RetentionDays)

	if *configFile != "" {
		stop, err := watchLogLevel(*configFile, slogLogger)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("config-watcher", func(context.Context) error { return stop() })
		}
	}

	routerCfg := &httpserver.RouterConfig{
		Sessions:    sessions,
		Messages:    messages,
		Logger:      slogLogger,
		APIKeys:     cfg.Auth.APIKeys,
		RateLimit:   cfg.Auth.RateLimit.RPS,
		RateBurst:   cfg.Auth.RateLimit.Burst,
		CORSOrigins: cfg.Server.HTTP.CORSOrigins,
	}
	if cfg.Telemetry.Metrics.Enabled {
		routerCfg.Metrics = registry
		routerCfg.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	if len(cfg.Auth.APIKeys) == 0 {
		log.Warn("no api keys configured, API authentication is disabled")
	}

	httpServer := httpserver.New(cfg.Server.HTTP, httpserver.NewRouter(routerCfg))
	if httpServer.TLS() {
		certs, err := tlsroots.NewWatcher(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			tlsroots.WithLogger(slogLogger))
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		httpServer.SetCertificateSource(certs.GetCertificate)
		go func() {
			if err := certs.Run(ctx); err != nil {
				log.Warn("certificate reload disabled", "error", err)
			}
		}()
	}
	shutdownHandler.OnShutdown("http", httpServer.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", httpServer.Addr(), "tls", httpServer.TLS())
		serveErr <- httpServer.ListenAndServe()
	}()

	waitCtx, stopWait := context.WithCancelCause(ctx)
	go func() {
		if err := <-serveErr; err != nil {
			stopWait(fmt.Errorf("http server: %w", err))
		}
	}()

	log.Info("server started, press Ctrl+C to stop")
	shutdownErr := shutdownHandler.Wait(waitCtx)
	cancel()

	if cause := context.Cause(waitCtx); cause != nil && cause != context.Canceled {
		return cause
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	log.Info("server stopped gracefully")
	return nil
}

// legacyEnv maps the variables of earlier deployments onto config keys.
var legacyEnv = map[string]confloader.Alias{
	"PORT": func(v string) (string, any) {
		return "server.http.address", "0.0.0.0:" + v
	},
	"API_SECRET_KEY": func(v string) (string, any) {
		return "auth.api_keys", strings.Split(v, ",")
	},
	"LOG_LEVEL": func(v string) (string, any) {
		return "telemetry.log.level", v
	},
	"SESSIONS_DIR": func(v string) (string, any) {
		return "sessions.dir", v
	},
}

// loadConfig loads configuration from defaults, file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithAliases(legacyEnv)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initCredentials opens the credential tree, with S3 backup when a bucket
// is configured.
func initCredentials(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger) (*credstore.Store, error) {
	opts := []credstore.Option{credstore.WithLogger(log)}

	b := cfg.Backup
	if b.Bucket != "" {
		sealer, err := credstore.NewSealer(b.Passphrase)
		if err != nil {
			return nil, err
		}
		client, err := credstore.NewS3Client(ctx, b.Region, b.Endpoint)
		if err != nil {
			return nil, err
		}
		backup, err := credstore.NewS3Backup(client, b.Bucket, b.Prefix, sealer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credstore.WithBackup(backup))
		log.Info("credential backup enabled", "bucket", b.Bucket, "prefix", b.Prefix)
	}

	store, err := credstore.New(cfg.Sessions.Dir, opts...)
	if err != nil {
		return nil, err
	}

	if b.Bucket != "" && b.Pull {
		pulled, err := store.PullBackups(ctx)
		if err != nil {
			log.Warn("pull credential backups failed", "error", err)
		} else if len(pulled) > 0 {
			log.Info("credential backups pulled", "sessions", pulled)
		}
	}
	return store, nil
}

// initMessageLog opens the configured log backend.
func initMessageLog(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger, registry *metric.Registry) (msglog.Store, error) {
	badgerCfg := msglog.DefaultBadgerConfig(cfg.MsgLog.Badger.Dir)
	badgerCfg.InMemory = cfg.MsgLog.Badger.InMemory
	if cfg.MsgLog.Badger.GCInterval > 0 {
		badgerCfg.GCInterval = cfg.MsgLog.Badger.GCInterval
	}

	store, err := msglog.Open(ctx, msglog.Config{
		Driver: cfg.MsgLog.Driver,
		Badger: badgerCfg,
		Postgres: msglog.PostgresConfig{
			DSN:          cfg.MsgLog.Postgres.DSN,
			MaxOpenConns: cfg.MsgLog.Postgres.MaxOpenConns,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	if bs, ok := store.(*msglog.BadgerStore); ok {
		bs.RegisterMetrics(registry.Registerer())
	}
	return store, nil
}

type closingPublisher interface {
	service.EventPublisher
	Close() error
}

// initPublisher connects to NATS when configured.
func initPublisher(cfg *config.ServerConfig) (closingPublisher, error) {
	if cfg.Events.NATSURL == "" {
		return &events.NoopPublisher{}, nil
	}
	return events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
}

// watchLogLevel re-reads the config file on change and applies its log
// level. Other settings need a restart.
func watchLogLevel(path string, log *slog.Logger) (func() error, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}

	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		if level := cfg.Telemetry.Log.Level; level != logger.GetLevel() {
			logger.SetLevel(level)
			log.Info("log level changed", "level", level)
		}
	})
	w.StartAsync()
	return w.Stop, nil
}
