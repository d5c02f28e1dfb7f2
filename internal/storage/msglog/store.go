// Package msglog persists message send attempts.
//
// Two backends are provided: an embedded Badger store (the default, which
// needs no external service) and a PostgreSQL store for deployments that
// already run one. Both satisfy the same Store interface.
package msglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

// Driver names.
const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("msglog: store closed")

// Store is a message log backend.
type Store interface {
	Append(ctx context.Context, entry *domain.MessageLog) error
	List(ctx context.Context, filter domain.LogFilter) ([]*domain.MessageLog, error)
	Stats(ctx context.Context, filter domain.LogFilter) (domain.LogStats, error)
	CleanOld(ctx context.Context, daysToKeep int) (int64, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is "badger" or "postgres". Default: "badger".
	Driver   string
	Badger   BadgerConfig
	Postgres PostgresConfig
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverBadger:
		return NewBadgerStore(cfg.Badger, logger)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("msglog: unknown driver %q", cfg.Driver)
	}
}

// cutoff returns the oldest timestamp kept by CleanOld.
func cutoff(now time.Time, daysToKeep int) time.Time {
	if daysToKeep <= 0 {
		daysToKeep = domain.DefaultRetentionDays
	}
	return now.AddDate(0, 0, -daysToKeep)
}

// prepare fills the ID and timestamp of a new entry.
func prepare(entry *domain.MessageLog) error {
	if entry == nil {
		return domain.ErrMissingArgument.WithDetails("entry is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.ID == "" {
		entry.ID = domain.NewMessageLogID(entry.Timestamp)
	}
	return nil
}
