package service

import (
	"context"
	"errors"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

// RestoreFailure records one session that could not be restored.
type RestoreFailure struct {
	SessionID string
	Err       error
}

// RestoreResult summarizes a RestoreSessions run.
type RestoreResult struct {
	// Restored lists the sessions registered and started.
	Restored []string
	// Degraded lists restored sessions whose metadata was missing or
	// corrupt; their client ID is "unknown".
	Degraded []string
	// Failed lists sessions that were skipped.
	Failed []RestoreFailure
}

// RestoreSessions registers a session for every credential directory found
// at startup and starts its transport. Failures are isolated per session:
// they are logged as restore errors and skipped. The returned error is only
// set when the credential root itself cannot be listed.
func (m *SessionManager) RestoreSessions(ctx context.Context) (*RestoreResult, error) {
	if m.closed.Load() {
		return nil, domain.ErrManagerClosed
	}

	ids, err := m.credentials.ListDirectories(ctx)
	if err != nil {
		return nil, domain.ErrCredentialStore.Wrap(err)
	}

	m.log.Info("restoring sessions", "count", len(ids))
	res := &RestoreResult{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		degraded, err := m.restoreOne(ctx, id)
		if err != nil {
			m.metrics.RestoreError()
			m.log.Error("session restore failed", "session_id", id, "error", err)
			res.Failed = append(res.Failed, RestoreFailure{SessionID: id, Err: err})
			continue
		}
		res.Restored = append(res.Restored, id)
		if degraded {
			res.Degraded = append(res.Degraded, id)
		}
	}

	m.log.Info("sessions restored",
		"restored", len(res.Restored),
		"degraded", len(res.Degraded),
		"failed", len(res.Failed))
	return res, nil
}

func (m *SessionManager) restoreOne(ctx context.Context, id string) (degraded bool, err error) {
	// 1. Directory names must be valid session IDs
	if err := domain.ValidateSessionID(id); err != nil {
		return false, domain.ErrSessionRestore.Wrap(err)
	}

	// 2. Read metadata; missing or corrupt files degrade to "unknown"
	clientID, createdAt := domain.UnknownClientID, m.now()
	meta, err := m.credentials.ReadMetadata(ctx, id)
	switch {
	case err == nil:
		if meta.ClientID != "" {
			clientID = meta.ClientID
		}
		if !meta.CreatedAt.IsZero() {
			createdAt = meta.CreatedAt
		}
	case errors.Is(err, domain.ErrMetadataNotFound):
		degraded = true
		m.log.Warn("session metadata missing, restoring with unknown client", "session_id", id)
	default:
		degraded = true
		m.metrics.RestoreError()
		m.log.Error("session metadata unreadable, restoring with unknown client",
			"session_id", id, "error", domain.ErrSessionRestore.Wrap(err))
	}

	// 3. Register and start
	e := m.newEntry(domain.NewSession(id, clientID, createdAt))
	if !m.sessions.SetIfAbsent(id, e) {
		e.cancel()
		return degraded, domain.ErrSessionRestore.Wrap(domain.ErrSessionConflict.WithDetails("session_id: " + id))
	}
	m.metrics.SessionAdded(domain.StatusConnecting)
	m.spawn(e)
	return degraded, nil
}
