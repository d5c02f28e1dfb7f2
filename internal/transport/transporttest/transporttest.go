// Package transporttest provides an in-process transport whose events are
// scripted by tests.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/transport"
)

// ErrClosed is returned by operations on a closed Transport.
var ErrClosed = errors.New("transporttest: transport closed")

// Sent is one message accepted by a Transport.
type Sent struct {
	To   string
	Body string
}

// Transport is a scripted transport.Transport.
type Transport struct {
	SessionID      string
	CredentialPath string

	events chan domain.TransportEvent
	done   chan struct{}

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once

	mu        sync.Mutex
	sent      []Sent
	sendErr   error
	logoutErr error
	logouts   int
}

func newTransport(sessionID, credentialPath string) *Transport {
	return &Transport{
		SessionID:      sessionID,
		CredentialPath: credentialPath,
		events:         make(chan domain.TransportEvent, 64),
		done:           make(chan struct{}),
	}
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan domain.TransportEvent { return t.events }

// Send records the message, or fails with the error set by FailSends.
func (t *Transport) Send(ctx context.Context, to, body string) error {
	if t.IsClosed() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, Sent{To: to, Body: body})
	return nil
}

// Logout counts the call and returns the error set by FailLogout.
func (t *Transport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logouts++
	return t.logoutErr
}

// Close stops the transport and closes its event stream.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeMu.Lock()
		t.closed = true
		close(t.events)
		t.closeMu.Unlock()
	})
	return nil
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Emit delivers ev unless the transport is closed.
func (t *Transport) Emit(ev domain.TransportEvent) bool {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}

// Challenge emits a pairing challenge.
func (t *Transport) Challenge(challenge string) bool { return t.Emit(domain.PairingEvent(challenge)) }

// Open emits an open connection event with the given identity.
func (t *Transport) Open(identity string) bool { return t.Emit(domain.OpenEvent(identity)) }

// Drop emits a transient close.
func (t *Transport) Drop(err error) bool {
	if err == nil {
		err = &domain.CloseError{Code: 428, Reason: "connection_closed"}
	}
	return t.Emit(domain.ClosedEvent(err))
}

// LogOut emits a permanent logout close.
func (t *Transport) LogOut() bool { return t.Emit(domain.ClosedEvent(domain.ErrLoggedOut)) }

// Activity emits inbound activity.
func (t *Transport) Activity() bool { return t.Emit(domain.ActivityEvent()) }

// Rotate emits new credential material.
func (t *Transport) Rotate(data []byte) bool { return t.Emit(domain.CredentialsEvent(data)) }

// FailSends makes subsequent sends fail with err (nil restores success).
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// FailLogout makes Logout return err.
func (t *Transport) FailLogout(err error) {
	t.mu.Lock()
	t.logoutErr = err
	t.mu.Unlock()
}

// SentMessages returns a copy of the accepted messages.
func (t *Transport) SentMessages() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Logouts returns how many times Logout was called.
func (t *Transport) Logouts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logouts
}

// Factory creates scripted transports and remembers them per session.
type Factory struct {
	mu         sync.Mutex
	transports map[string][]*Transport
	failures   map[string]int
	failErr    error
	holds      map[string]*hold
}

// hold parks Start calls for one session, like a dial still in flight.
type hold struct {
	entered chan struct{}
	release chan struct{}
}

var _ transport.Factory = (*Factory)(nil)

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{
		transports: make(map[string][]*Transport),
		failures:   make(map[string]int),
		holds:      make(map[string]*hold),
	}
}

// Start implements transport.Factory.
func (f *Factory) Start(ctx context.Context, sessionID, credentialPath string) (transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	h := f.holds[sessionID]
	f.mu.Unlock()
	if h != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
		// A dial that is already under way completes even if ctx is
		// cancelled meanwhile.
		<-h.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[sessionID] > 0 {
		f.failures[sessionID]--
		return nil, f.failErr
	}
	t := newTransport(sessionID, credentialPath)
	f.transports[sessionID] = append(f.transports[sessionID], t)
	return t, nil
}

// FailStarts makes the next n starts for sessionID fail with err.
func (f *Factory) FailStarts(sessionID string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[sessionID] = n
	f.failErr = err
}

// HoldStarts blocks Start for sessionID until release is called. entered
// receives once a Start is parked.
func (f *Factory) HoldStarts(sessionID string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.mu.Lock()
	f.holds[sessionID] = h
	f.mu.Unlock()

	var once sync.Once
	return h.entered, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.holds, sessionID)
			f.mu.Unlock()
			close(h.release)
		})
	}
}

// Starts returns how many transports were started for sessionID.
func (f *Factory) Starts(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports[sessionID])
}

// Latest returns the most recent transport of sessionID, or nil.
func (f *Factory) Latest(sessionID string) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transports[sessionID]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

// WaitStart waits until the n-th transport (1-based) of sessionID has been
// started and returns it, or nil after timeout.
func (f *Factory) WaitStart(sessionID string, n int, timeout time.Duration) *Transport {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		ts := f.transports[sessionID]
		if len(ts) >= n {
			t := ts[n-1]
			f.mu.Unlock()
			return t
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}
