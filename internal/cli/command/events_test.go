package command

import (
	"context"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/yndnr/wamesh-go/internal/events"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestEventsWatch(t *testing.T) {
	url := startTestNATS(t)
	h := newHarness(t)

	pub, err := events.NewNATSPublisher(url, "wamesh")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, _, err := h.runRaw("events", "watch", "--nats", url, "--topic", "session.*", "--count", "1")
		done <- result{out, err}
	}()

	// Publish until the watcher has subscribed and received one event.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("watch: %v", res.err)
			}
			if !strings.Contains(res.out, `"session_id":"sess-a"`) || !strings.Contains(res.out, `"status":"connected"`) {
				t.Errorf("output = %q", res.out)
			}
			if strings.Count(strings.TrimSpace(res.out), "\n") != 0 {
				t.Errorf("expected exactly one event line, got %q", res.out)
			}
			return
		case <-ticker.C:
			_ = pub.Publish(context.Background(), events.TopicMessageSent, events.MessageAttempted{SessionID: "ignored"})
			_ = pub.Publish(context.Background(), events.TopicSessionStatus, events.SessionStatusChanged{
				SessionID: "sess-a",
				ClientID:  "acme",
				From:      "awaiting-scan",
				Status:    "connected",
				Timestamp: time.Now(),
			})
		case <-deadline:
			t.Fatal("watch did not receive an event")
		}
	}
}

func TestEventsWatch_Unreachable(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.runRaw("events", "watch", "--nats", "nats://127.0.0.1:1"); err == nil {
		t.Fatal("expected connection error")
	}
}
