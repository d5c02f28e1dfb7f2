package service

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/events"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
	"github.com/yndnr/wamesh-go/internal/transport"
	"github.com/yndnr/wamesh-go/pkg/cmap"
)

// DefaultLogoutTimeout bounds the best-effort logout performed on delete.
const DefaultLogoutTimeout = 10 * time.Second

// ManagerConfig holds the collaborators and tunables of a SessionManager.
type ManagerConfig struct {
	Transports  transport.Factory // Required
	Credentials CredentialStore   // Required
	Publisher   EventPublisher
	Metrics     Metrics
	Logger      logger.Logger
	Reconnect   ReconnectPolicy

	// LogoutTimeout bounds the logout call made by DeleteSession.
	LogoutTimeout time.Duration

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

// SessionManager owns every live session of the process.
//
// Each session is an entry in a sharded concurrent map. An entry carries its
// own lock guarding the record, the transport handle and the session's
// credential directory, and a worker goroutine that consumes the transport's
// events in order. Operations on different sessions never share a lock.
type SessionManager struct {
	sessions    *cmap.Map[*entry]
	transports  transport.Factory
	credentials CredentialStore
	publisher   EventPublisher
	metrics     Metrics
	log         logger.Logger
	reconnect   ReconnectPolicy
	logoutWait  time.Duration
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	closed  atomic.Bool
	workers sync.WaitGroup
}

// entry is the per-session state owned by the manager.
type entry struct {
	id string

	mu        sync.RWMutex
	record    domain.Session
	transport transport.Transport
	removed   bool

	// ctx is cancelled when the session is torn down or the manager closes.
	ctx    context.Context
	cancel context.CancelFunc

	// gone is closed once teardown has finished removing the session.
	gone chan struct{}
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	m := &SessionManager{
		sessions:    cmap.New[*entry](),
		transports:  cfg.Transports,
		credentials: cfg.Credentials,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		reconnect:   cfg.Reconnect,
		logoutWait:  cfg.LogoutTimeout,
		now:         cfg.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.log == nil {
		m.log = logger.Default()
	}
	m.log = m.log.With("component", "session_manager")
	if m.logoutWait <= 0 {
		m.logoutWait = DefaultLogoutTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ============================================================================
// Session Create Operation
// ============================================================================

// CreateSessionRequest contains parameters for session creation.
type CreateSessionRequest struct {
	ClientID  string // Required
	SessionID string // Optional, generated when empty
}

// CreateSession registers a new session in StatusConnecting and starts its
// transport in the background. It returns without waiting for the handshake.
func (m *SessionManager) CreateSession(ctx context.Context, req *CreateSessionRequest) (domain.Session, error) {
	if m.closed.Load() {
		return domain.Session{}, domain.ErrManagerClosed
	}

	// 1. Validate input
	if req == nil {
		return domain.Session{}, domain.ErrMissingArgument.WithDetails("request is required")
	}
	if err := domain.ValidateClientID(req.ClientID); err != nil {
		return domain.Session{}, err
	}

	id := req.SessionID
	if id == "" {
		generated, err := domain.GenerateSessionID()
		if err != nil {
			return domain.Session{}, err
		}
		id = generated
	} else if err := domain.ValidateSessionID(id); err != nil {
		return domain.Session{}, err
	}

	// 2. Register the record; an existing entry is left untouched
	e := m.newEntry(domain.NewSession(id, req.ClientID, m.now()))
	if !m.sessions.SetIfAbsent(id, e) {
		e.cancel()
		return domain.Session{}, domain.ErrSessionConflict.WithDetails("session_id: " + id)
	}

	// 3. Start the worker, which starts the transport
	m.metrics.SessionAdded(domain.StatusConnecting)
	m.spawn(e)

	logger.L(ctx).Info("session created", "session_id", id, "client_id", req.ClientID)
	return e.snapshot(), nil
}

// ============================================================================
// Session Query Operations
// ============================================================================

// GetSession returns a snapshot of the session's record.
func (m *SessionManager) GetSession(ctx context.Context, id string) (domain.Session, error) {
	e, ok := m.sessions.Get(id)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound.WithDetails("session_id: " + id)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		return domain.Session{}, domain.ErrSessionNotFound.WithDetails("session_id: " + id)
	}
	return e.record, nil
}

// ListSessions returns snapshots of all live sessions, optionally filtered
// by client ID, ordered by creation time.
func (m *SessionManager) ListSessions(ctx context.Context, clientID string) []domain.Session {
	out := make([]domain.Session, 0, m.sessions.Count())
	for _, e := range m.sessions.Values() {
		e.mu.RLock()
		if !e.removed && (clientID == "" || e.record.ClientID == clientID) {
			out = append(out, e.record)
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	return m.sessions.Count()
}

// ============================================================================
// Send Operation
// ============================================================================

// SendMessageRequest contains parameters for an outbound message.
type SendMessageRequest struct {
	SessionID string // Required
	To        string // Required, phone number or full address
	Message   string // Required
}

// SendMessageResponse describes a delivered send.
type SendMessageResponse struct {
	SessionID string
	ClientID  string
	To        string // Normalized address
	SentAt    time.Time
}

// SendMessage sends a text message through a connected session.
func (m *SessionManager) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	// 1. Validate input
	if req == nil || req.SessionID == "" || req.To == "" || req.Message == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id, to and message are required")
	}

	// 2. Check state and take the handle under the session lock
	e, ok := m.sessions.Get(req.SessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound.WithDetails("session_id: " + req.SessionID)
	}
	e.mu.RLock()
	removed, status, tr, clientID := e.removed, e.record.Status, e.transport, e.record.ClientID
	e.mu.RUnlock()

	if removed {
		return nil, domain.ErrSessionNotFound.WithDetails("session_id: " + req.SessionID)
	}
	if status != domain.StatusConnected || tr == nil {
		return nil, domain.ErrSessionInvalidState.WithDetails("status: " + status.String())
	}

	// 3. Send outside the lock so events keep flowing
	to := domain.NormalizeRecipient(req.To)
	if err := tr.Send(ctx, to, req.Message); err != nil {
		return nil, domain.ErrTransportFailure.Wrap(err)
	}

	// 4. Bump activity if the session is still live
	sentAt := m.now()
	e.mu.Lock()
	if !e.removed {
		e.record.Touch(sentAt)
	}
	e.mu.Unlock()

	logger.L(ctx).Info("message sent", "session_id", req.SessionID, "to", to)
	return &SendMessageResponse{
		SessionID: req.SessionID,
		ClientID:  clientID,
		To:        to,
		SentAt:    sentAt,
	}, nil
}

// ============================================================================
// Delete Operation
// ============================================================================

// DeleteSession logs the session out (best effort), removes its record and
// deletes its credential directory. A concurrent terminal disconnect for the
// same session is absorbed: whichever runs first tears the session down and
// the other waits for it to finish.
func (m *SessionManager) DeleteSession(ctx context.Context, id string) error {
	e, ok := m.sessions.Get(id)
	if !ok {
		return domain.ErrSessionNotFound.WithDetails("session_id: " + id)
	}

	m.teardown(ctx, e, teardownDelete)

	logger.L(ctx).Info("session deleted", "session_id", id)
	return nil
}

// ============================================================================
// Metadata Operation
// ============================================================================

// SaveSessionMetadata persists the session's client ID and creation time
// into its credential directory.
func (m *SessionManager) SaveSessionMetadata(ctx context.Context, id string) error {
	e, ok := m.sessions.Get(id)
	if !ok {
		return domain.ErrSessionNotFound.WithDetails("session_id: " + id)
	}

	// Writes and deletes of the directory share the session lock.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.ErrSessionNotFound.WithDetails("session_id: " + id)
	}

	meta := domain.Metadata{ClientID: e.record.ClientID, CreatedAt: e.record.CreatedAt}
	if err := m.credentials.WriteMetadata(ctx, id, meta); err != nil {
		return domain.ErrCredentialStore.Wrap(err)
	}
	return nil
}

// ============================================================================
// Shutdown
// ============================================================================

// Close stops every worker and closes every transport without logging out,
// so credential directories survive for the next restore. It waits for the
// workers until ctx is done.
func (m *SessionManager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, e := range m.sessions.Values() {
		e.cancel()
		e.mu.Lock()
		tr := e.transport
		e.transport = nil
		e.mu.Unlock()
		if tr != nil {
			if err := tr.Close(); err != nil {
				m.log.Warn("transport close failed", "session_id", e.id, "error", err)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("session manager stopped", "sessions", m.sessions.Count())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Internal helpers
// ============================================================================

func (m *SessionManager) newEntry(record domain.Session) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{
		id:     record.ID,
		record: record,
		ctx:    ctx,
		cancel: cancel,
		gone:   make(chan struct{}),
	}
}

func (m *SessionManager) spawn(e *entry) {
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		m.run(e)
	}()
}

func (m *SessionManager) backoff(failures int) time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.reconnect.Delay(failures, m.rng)
}

func (m *SessionManager) publish(topic string, event any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.publisher.Publish(ctx, topic, event); err != nil {
		m.log.Warn("publish event failed", "topic", topic, "error", err)
	}
}

func (m *SessionManager) publishTransition(from domain.Status, rec domain.Session) {
	m.metrics.SessionTransition(from, rec.Status)
	m.publish(events.TopicSessionStatus, events.SessionStatusChanged{
		SessionID:     rec.ID,
		ClientID:      rec.ClientID,
		From:          from.String(),
		Status:        rec.Status.String(),
		PhoneIdentity: rec.PhoneIdentity,
		Timestamp:     m.now(),
	})
}

func (e *entry) snapshot() domain.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record
}
