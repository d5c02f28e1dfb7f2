package msglog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps entries in the message_logs table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to cfg.DSN, configures the pool and applies
// pending migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 10))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 2))
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Append inserts entry, assigning an ID when it has none.
func (s *PostgresStore) Append(ctx context.Context, entry *domain.MessageLog) error {
	if err := prepare(entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_logs (id, session_id, client_id, to_number, message, status, error, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SessionID, entry.ClientID, entry.To, entry.Message,
		string(entry.Status), nullString(entry.Error), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message log: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *PostgresStore) List(ctx context.Context, filter domain.LogFilter) ([]*domain.MessageLog, error) {
	filter = filter.Normalize()
	where, args := buildWhere(filter)

	query := `SELECT id, session_id, client_id, to_number, message, status, COALESCE(error, ''), timestamp
		FROM message_logs` + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list message logs: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.MessageLog, 0)
	for rows.Next() {
		var (
			entry  domain.MessageLog
			status string
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.ClientID, &entry.To,
			&entry.Message, &status, &entry.Error, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		entry.Status = domain.MessageStatus(status)
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message logs: %w", err)
	}
	return out, nil
}

// Stats counts matching entries. Paging fields of filter are ignored.
func (s *PostgresStore) Stats(ctx context.Context, filter domain.LogFilter) (domain.LogStats, error) {
	where, args := buildWhere(filter)
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status = 'sent'),
		COUNT(*) FILTER (WHERE status = 'failed')
		FROM message_logs` + where

	var stats domain.LogStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Sent, &stats.Failed); err != nil {
		return domain.LogStats{}, fmt.Errorf("message log stats: %w", err)
	}
	return stats, nil
}

// CleanOld deletes entries older than daysToKeep days.
func (s *PostgresStore) CleanOld(ctx context.Context, daysToKeep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM message_logs WHERE timestamp < $1`, cutoff(s.now(), daysToKeep))
	if err != nil {
		return 0, fmt.Errorf("clean message logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clean message logs: %w", err)
	}
	return n, nil
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(f domain.LogFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}

	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.To != "" {
		add("to_number = $%d", f.To)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.Start.IsZero() {
		add("timestamp >= $%d", f.Start)
	}
	if !f.End.IsZero() {
		add("timestamp <= $%d", f.End)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
