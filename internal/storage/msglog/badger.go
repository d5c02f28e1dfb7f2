package msglog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

const keyPrefix = "log:"

// BadgerConfig configures the embedded backend.
type BadgerConfig struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory (tests, ephemeral deployments).
	InMemory bool

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// SyncWrites fsyncs after each write.
	SyncWrites bool
}

// DefaultBadgerConfig returns the default configuration for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		CacheSize:   16 << 20,
	}
}

// BadgerStore keeps entries under "log:<ulid>" keys so key order is
// timestamp order.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
	now    func() time.Time

	closed     atomic.Bool
	lastGCTime atomic.Int64 // Unix milliseconds

	metricsEntries   prometheus.Counter
	metricsDeleted   prometheus.Counter
	metricsTotalSize prometheus.Gauge

	stopCh chan struct{}
	doneCh chan struct{}
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a Badger-backed message log.
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = 0.5
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("message log opened",
		"driver", DriverBadger,
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory)
	return s, nil
}

// Append stores entry, assigning an ID when it has none.
func (s *BadgerStore) Append(ctx context.Context, entry *domain.MessageLog) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := prepare(entry); err != nil {
		return err
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+entry.ID), value)
	})
	if err != nil {
		return err
	}
	if s.metricsEntries != nil {
		s.metricsEntries.Inc()
	}
	return nil
}

// List returns matching entries, newest first.
func (s *BadgerStore) List(ctx context.Context, filter domain.LogFilter) ([]*domain.MessageLog, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	filter = filter.Normalize()

	out := make([]*domain.MessageLog, 0)
	skipped := 0
	err := s.scan(ctx, true, func(entry *domain.MessageLog) bool {
		if !filter.Match(entry) {
			return true
		}
		if skipped < filter.Offset {
			skipped++
			return true
		}
		out = append(out, entry)
		return len(out) < filter.Limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats counts matching entries. Paging fields of filter are ignored.
func (s *BadgerStore) Stats(ctx context.Context, filter domain.LogFilter) (domain.LogStats, error) {
	var stats domain.LogStats
	if s.closed.Load() {
		return stats, ErrClosed
	}
	err := s.scan(ctx, false, func(entry *domain.MessageLog) bool {
		if filter.Match(entry) {
			stats.Add(entry.Status)
		}
		return true
	})
	return stats, err
}

// CleanOld deletes entries older than daysToKeep days.
func (s *BadgerStore) CleanOld(ctx context.Context, daysToKeep int) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var boundary ulid.ULID
	if err := boundary.SetTime(ulid.Timestamp(cutoff(s.now(), daysToKeep))); err != nil {
		return 0, fmt.Errorf("cleanup boundary: %w", err)
	}
	stop := []byte(keyPrefix + strings.ToLower(boundary.String()))

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if string(key) >= string(stop) {
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return ctx.Err()
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}

	if s.metricsDeleted != nil {
		s.metricsDeleted.Add(float64(len(keys)))
	}
	s.logger.Info("message log pruned", "deleted_count", len(keys), "days_to_keep", daysToKeep)
	return int64(len(keys)), nil
}

// scan decodes entries in key order (or reverse) until fn returns false.
func (s *BadgerStore) scan(ctx context.Context, reverse bool, fn func(*domain.MessageLog) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(keyPrefix)
		if reverse {
			start = []byte(keyPrefix + "\xff")
		}
		for it.Seek(start); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry domain.MessageLog
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				s.logger.Warn("skipping undecodable message log entry",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			if !fn(&entry) {
				break
			}
		}
		return nil
	})
}

// GC runs value log garbage collection until nothing more is reclaimed.
func (s *BadgerStore) GC() error {
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				break
			}
			return fmt.Errorf("gc: %w", err)
		}
	}
	s.lastGCTime.Store(s.now().UnixMilli())
	return nil
}

// Close stops background work and closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("message log closed", "driver", DriverBadger)
	return nil
}

// RegisterMetrics registers the store's metrics with registry.
func (s *BadgerStore) RegisterMetrics(registry prometheus.Registerer) *BadgerStore {
	s.metricsEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wamesh",
		Subsystem: "msglog",
		Name:      "entries_appended_total",
		Help:      "Message log entries appended",
	})
	s.metricsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wamesh",
		Subsystem: "msglog",
		Name:      "entries_pruned_total",
		Help:      "Message log entries deleted by retention cleanup",
	})
	s.metricsTotalSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wamesh",
		Subsystem: "msglog",
		Name:      "badger_size_bytes",
		Help:      "Badger storage size in bytes (LSM + value log)",
	})
	registry.MustRegister(s.metricsEntries, s.metricsDeleted, s.metricsTotalSize)
	s.updateSize()
	return s
}

func (s *BadgerStore) updateSize() {
	if s.metricsTotalSize == nil {
		return
	}
	lsm, vlog := s.db.Size()
	s.metricsTotalSize.Set(float64(lsm + vlog))
}

func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.GC(); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			s.updateSize()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
