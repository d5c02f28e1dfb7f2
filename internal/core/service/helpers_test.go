package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/events"
	"github.com/yndnr/wamesh-go/internal/storage/credstore"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
	"github.com/yndnr/wamesh-go/internal/transport/transporttest"
)

const waitTimeout = 2 * time.Second

type published struct {
	topic string
	event any
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, event: event})
	return nil
}

func (p *recordingPublisher) removals(sessionID string) []events.SessionRemoved {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.SessionRemoved
	for _, ev := range p.events {
		if r, ok := ev.event.(events.SessionRemoved); ok && r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.topic == topic {
			n++
		}
	}
	return n
}

// countingMetrics counts observations.
type countingMetrics struct {
	mu          sync.Mutex
	added       int
	removed     int
	transitions map[domain.Status]int
	reconnects  int
	restoreErrs int
	messages    map[domain.MessageStatus]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		transitions: make(map[domain.Status]int),
		messages:    make(map[domain.MessageStatus]int),
	}
}

func (c *countingMetrics) SessionAdded(domain.Status) {
	c.mu.Lock()
	c.added++
	c.mu.Unlock()
}

func (c *countingMetrics) SessionTransition(_, to domain.Status) {
	c.mu.Lock()
	c.transitions[to]++
	c.mu.Unlock()
}

func (c *countingMetrics) SessionRemoved(domain.Status) {
	c.mu.Lock()
	c.removed++
	c.mu.Unlock()
}

func (c *countingMetrics) ReconnectAttempt() {
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

func (c *countingMetrics) RestoreError() {
	c.mu.Lock()
	c.restoreErrs++
	c.mu.Unlock()
}

func (c *countingMetrics) MessageRecorded(status domain.MessageStatus) {
	c.mu.Lock()
	c.messages[status]++
	c.mu.Unlock()
}

type metricsSnapshot struct {
	added, removed, reconnects, restoreErrs int
	sent, failed                            int
}

func (c *countingMetrics) snapshot() metricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return metricsSnapshot{
		added:       c.added,
		removed:     c.removed,
		reconnects:  c.reconnects,
		restoreErrs: c.restoreErrs,
		sent:        c.messages[domain.MessageSent],
		failed:      c.messages[domain.MessageFailed],
	}
}

type harness struct {
	m         *SessionManager
	factory   *transporttest.Factory
	store     *credstore.Store
	publisher *recordingPublisher
	metrics   *countingMetrics
}

func newHarness(t *testing.T, configure ...func(*ManagerConfig)) *harness {
	t.Helper()

	store, err := credstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log, err := logger.New(logger.Config{Level: "error", Output: io.Discard})
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		factory:   transporttest.NewFactory(),
		store:     store,
		publisher: &recordingPublisher{},
		metrics:   newCountingMetrics(),
	}
	cfg := ManagerConfig{
		Transports:  h.factory,
		Credentials: store,
		Publisher:   h.publisher,
		Metrics:     h.metrics,
		Logger:      log,
		Reconnect: ReconnectPolicy{
			InitialDelay: time.Millisecond,
			Multiplier:   2,
			MaxDelay:     5 * time.Millisecond,
		},
		LogoutTimeout: time.Second,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	h.m = NewSessionManager(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		if err := h.m.Close(ctx); err != nil {
			t.Errorf("close manager: %v", err)
		}
	})
	return h
}

// create creates a session and waits for its first transport.
func (h *harness) create(t *testing.T, id, clientID string) *transporttest.Transport {
	t.Helper()
	if _, err := h.m.CreateSession(context.Background(), &CreateSessionRequest{SessionID: id, ClientID: clientID}); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	tr := h.factory.WaitStart(id, 1, waitTimeout)
	if tr == nil {
		t.Fatalf("transport for %s was not started", id)
	}
	return tr
}

// connect creates a session and drives it to connected.
func (h *harness) connect(t *testing.T, id, clientID, identity string) *transporttest.Transport {
	t.Helper()
	tr := h.create(t, id, clientID)
	tr.Open(identity)
	h.waitStatus(t, id, domain.StatusConnected)
	return tr
}

func (h *harness) waitStatus(t *testing.T, id string, want domain.Status) domain.Session {
	t.Helper()
	var last domain.Session
	eventually(t, func() bool {
		rec, err := h.m.GetSession(context.Background(), id)
		if err != nil {
			return false
		}
		last = rec
		return rec.Status == want
	}, "session %s to reach %s", id, want)
	return last
}

func (h *harness) waitGone(t *testing.T, id string) {
	t.Helper()
	eventually(t, func() bool {
		return !h.m.sessions.Has(id)
	}, "session %s to be removed", id)
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(time.Millisecond)
	}
}
