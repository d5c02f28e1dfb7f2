package service

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/events"
	"github.com/yndnr/wamesh-go/internal/transport"
)

var errEventStreamEnded = errors.New("transport event stream ended")

type pumpOutcome uint8

const (
	outcomeStopped pumpOutcome = iota
	outcomeTransient
	outcomeLoggedOut
)

type pumpResult struct {
	outcome pumpOutcome
	opened  bool
	err     error
}

type teardownKind uint8

const (
	teardownDelete    teardownKind = iota // explicit delete: logout
	teardownLoggedOut                     // account logged out
)

// run is the session's worker. It owns the transport lifecycle: start,
// consume events, and restart in place after transient closes.
func (m *SessionManager) run(e *entry) {
	failures := 0
	for {
		if failures > 0 {
			if m.reconnect.Exhausted(failures) {
				m.stall(e, failures)
				return
			}
			if !sleepCtx(e.ctx, m.backoff(failures)) {
				return
			}
			m.metrics.ReconnectAttempt()
		}

		tr, err := m.transports.Start(e.ctx, e.id, m.credentials.Path(e.id))
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			failures++
			m.log.Warn("transport start failed", "session_id", e.id, "failures", failures, "error", err)
			continue
		}
		if !e.attach(tr) {
			_ = tr.Close()
			return
		}

		res := m.pump(e, tr)
		switch res.outcome {
		case outcomeStopped:
			m.release(e, tr)
			return
		case outcomeLoggedOut:
			m.log.Info("session logged out", "session_id", e.id, "error", res.err)
			m.teardown(context.Background(), e, teardownLoggedOut)
			return
		}

		if res.opened {
			failures = 0
		}
		failures++
		if !m.detach(e, tr) {
			return
		}
		m.log.Info("connection closed, reconnecting", "session_id", e.id, "failures", failures, "error", res.err)
	}
}

// pump applies the transport's events until the connection closes or the
// session is stopped.
func (m *SessionManager) pump(e *entry, tr transport.Transport) pumpResult {
	var opened bool
	stream := tr.Events()
	for {
		select {
		case <-e.ctx.Done():
			return pumpResult{outcome: outcomeStopped}
		case ev, ok := <-stream:
			if !ok {
				if e.ctx.Err() != nil {
					return pumpResult{outcome: outcomeStopped}
				}
				return pumpResult{outcome: outcomeTransient, opened: opened, err: errEventStreamEnded}
			}
			if ev.Kind == domain.EventConnectionState && ev.State == domain.ConnectionClosed {
				if domain.IsPermanentLogout(ev.Err) {
					return pumpResult{outcome: outcomeLoggedOut, opened: opened, err: ev.Err}
				}
				return pumpResult{outcome: outcomeTransient, opened: opened, err: ev.Err}
			}
			if m.apply(e, ev) {
				opened = true
			}
		}
	}
}

// apply translates one non-closing event into a record change. It reports
// whether the event opened the connection.
func (m *SessionManager) apply(e *entry, ev domain.TransportEvent) bool {
	at := ev.At
	if at.IsZero() {
		at = m.now()
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return false
	}
	from := e.record.Status
	opened := false
	switch ev.Kind {
	case domain.EventPairingChallenge:
		if ev.Challenge == "" {
			e.mu.Unlock()
			m.log.Warn("ignoring empty pairing challenge", "session_id", e.id)
			return false
		}
		e.record.ApplyPairingChallenge(ev.Challenge, at)
	case domain.EventConnectionState:
		if ev.State == domain.ConnectionOpen {
			e.record.MarkConnected(domain.ParsePhoneIdentity(ev.Identity), at)
			opened = true
		}
	case domain.EventInboundActivity:
		e.record.Touch(at)
	case domain.EventCredentialsRotated:
		// The directory is written under the session lock like metadata.
		err := m.credentials.WriteCredentials(e.ctx, e.id, ev.Credentials)
		e.mu.Unlock()
		if err != nil {
			m.log.Error("persist rotated credentials failed", "session_id", e.id, "error", err)
		}
		return false
	default:
		e.mu.Unlock()
		m.log.Debug("ignoring unknown transport event", "session_id", e.id, "kind", ev.Kind.String())
		return false
	}
	rec := e.record
	e.mu.Unlock()

	switch {
	case ev.Kind == domain.EventPairingChallenge:
		m.log.Info("pairing challenge issued", "session_id", e.id)
		m.publishTransition(from, rec)
	case rec.Status != from:
		m.log.Info("session status changed", "session_id", e.id, "from", from.String(), "to", rec.Status.String())
		m.publishTransition(from, rec)
	}
	return opened
}

// attach installs tr as the session's live handle unless the session has
// been removed or stopped meanwhile. Close cancels ctx before it collects
// handles, so a handle attached here is always seen by Close.
func (e *entry) attach(tr transport.Transport) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.ctx.Err() != nil {
		return false
	}
	e.transport = tr
	return true
}

// release closes tr if it is still the session's handle after the worker
// was stopped.
func (m *SessionManager) release(e *entry, tr transport.Transport) {
	e.mu.Lock()
	owned := e.transport == tr
	if owned {
		e.transport = nil
	}
	e.mu.Unlock()
	if owned {
		if err := tr.Close(); err != nil {
			m.log.Debug("closing transport", "session_id", e.id, "error", err)
		}
	}
}

// stall parks a session whose reconnect budget is spent. The record stays
// in the map with its credentials so DeleteSession still reaches it; the
// next restore or an explicit delete and create starts it again.
func (m *SessionManager) stall(e *entry, failures int) {
	e.mu.RLock()
	removed, rec := e.removed, e.record
	e.mu.RUnlock()
	if removed {
		return
	}
	m.log.Error("reconnect attempts exhausted, session stalled",
		"session_id", e.id, "failures", failures)
	m.publish(events.TopicSessionStalled, events.SessionStalled{
		SessionID: rec.ID,
		ClientID:  rec.ClientID,
		Status:    rec.Status.String(),
		Failures:  failures,
		Timestamp: m.now(),
	})
}

// detach drops a closed transport and marks the session as reconnecting.
func (m *SessionManager) detach(e *entry, tr transport.Transport) bool {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return false
	}
	if e.transport == tr {
		e.transport = nil
	}
	from := e.record.Status
	e.record.MarkReconnecting()
	rec := e.record
	e.mu.Unlock()

	if err := tr.Close(); err != nil {
		m.log.Debug("closing transport", "session_id", e.id, "error", err)
	}
	if from != rec.Status {
		m.publishTransition(from, rec)
	}
	return true
}

// teardown removes a session. The first caller performs the removal; any
// concurrent caller waits until it has finished.
func (m *SessionManager) teardown(ctx context.Context, e *entry, kind teardownKind) {
	// 1. Claim the teardown
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		select {
		case <-e.gone:
		case <-ctx.Done():
		}
		return
	}
	e.removed = true
	last := e.record.Status
	e.record.MarkDisconnected()
	rec := e.record
	tr := e.transport
	e.transport = nil
	e.mu.Unlock()

	// 2. Stop the worker
	e.cancel()
	if rec.Status != last {
		m.publishTransition(last, rec)
	}

	// 3. Release the transport
	opCtx := context.WithoutCancel(ctx)
	if tr != nil {
		if kind == teardownDelete {
			logoutCtx, cancel := context.WithTimeout(opCtx, m.logoutWait)
			if err := tr.Logout(logoutCtx); err != nil {
				m.log.Warn("logout failed, deleting anyway", "session_id", e.id, "error", err)
			}
			cancel()
		}
		if err := tr.Close(); err != nil {
			m.log.Debug("closing transport", "session_id", e.id, "error", err)
		}
	}

	// 4. Drop credentials under the session lock
	e.mu.Lock()
	err := m.credentials.DeleteDirectory(opCtx, e.id)
	e.mu.Unlock()
	if err != nil {
		m.log.Error("delete credential directory failed", "session_id", e.id, "error", err)
	}

	// 5. Leave the map; a newer entry under the same id is not touched
	m.sessions.DeleteIf(e.id, func(cur *entry) bool { return cur == e })
	close(e.gone)
	m.metrics.SessionRemoved(rec.Status)

	reason := events.RemovedDeleted
	if kind == teardownLoggedOut {
		reason = events.RemovedLoggedOut
	}
	m.publish(events.TopicSessionRemoved, events.SessionRemoved{
		SessionID: rec.ID,
		ClientID:  rec.ClientID,
		Reason:    reason,
		Timestamp: m.now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
