package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultBackupTimeout bounds one upload or delete against the backup.
const DefaultBackupTimeout = 30 * time.Second

// Backup stores sealed credential bundles off the host.
type Backup interface {
	Put(ctx context.Context, sessionID string, blob []byte) error
	Get(ctx context.Context, sessionID string) ([]byte, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	Sealer() *Sealer
}

type mirrorOp uint8

const (
	opPut mirrorOp = iota
	opDelete
	opFlush
)

type mirrorJob struct {
	op        mirrorOp
	sessionID string
	ack       chan struct{}
}

// mirror applies backup uploads and deletes in the background, in the
// order they were requested. Callers only pay for a slice append.
type mirror struct {
	store   *Store
	backup  Backup
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	queue  []mirrorJob
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newMirror(s *Store) *mirror {
	m := &mirror{
		store:   s,
		backup:  s.backup,
		timeout: s.backupTimeout,
		log:     s.log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mirror) enqueue(job mirrorJob) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	// A queued upload of the same session will read the latest files anyway.
	if job.op == opPut {
		for _, q := range m.queue {
			if q.op == opPut && q.sessionID == job.sessionID {
				m.mu.Unlock()
				return true
			}
		}
	}
	m.queue = append(m.queue, job)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *mirror) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.wake
			continue
		}
		job := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.apply(job)
	}
}

func (m *mirror) apply(job mirrorJob) {
	if job.op == opFlush {
		close(job.ack)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	switch job.op {
	case opPut:
		m.store.pushBackup(ctx, job.sessionID)
	case opDelete:
		if err := m.backup.Delete(ctx, job.sessionID); err != nil {
			m.log.Warn("delete credential backup failed", "session_id", job.sessionID, "error", err)
		}
	}
}

// flush waits until every job queued before the call has been applied.
func (m *mirror) flush(ctx context.Context) error {
	ack := make(chan struct{})
	if !m.enqueue(mirrorJob{op: opFlush, ack: ack}) {
		return nil
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the queue to drain.
func (m *mirror) close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pushBackup seals and uploads the session's bundle. Failures are logged:
// the local directory stays authoritative. A directory deleted since the
// upload was requested is skipped.
func (s *Store) pushBackup(ctx context.Context, sessionID string) {
	data, err := packDir(s.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err == nil {
		var blob []byte
		blob, err = s.backup.Sealer().Seal(sessionID, data)
		if err == nil {
			err = s.backup.Put(ctx, sessionID, blob)
		}
	}
	if err != nil {
		s.log.Warn("credential backup failed", "session_id", sessionID, "error", err)
		return
	}
	s.log.Debug("credential backup stored", "session_id", sessionID)
}

// PullBackups restores every backed-up session that has no local directory.
// It returns the restored IDs; per-session failures are logged and skipped.
func (s *Store) PullBackups(ctx context.Context) ([]string, error) {
	if s.backup == nil {
		return nil, nil
	}
	ids, err := s.backup.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credential backups: %w", err)
	}

	var restored []string
	for _, id := range ids {
		if _, err := os.Stat(s.Path(id)); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("stat session directory failed", "session_id", id, "error", err)
			continue
		}
		if err := s.pullOne(ctx, id); err != nil {
			s.log.Error("credential backup restore failed", "session_id", id, "error", err)
			continue
		}
		restored = append(restored, id)
	}
	return restored, nil
}

func (s *Store) pullOne(ctx context.Context, sessionID string) error {
	blob, err := s.backup.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	data, err := s.backup.Sealer().Open(sessionID, blob)
	if err != nil {
		return err
	}
	if err := unpackDir(s.Path(sessionID), data); err != nil {
		_ = os.RemoveAll(s.Path(sessionID))
		return err
	}
	return nil
}
