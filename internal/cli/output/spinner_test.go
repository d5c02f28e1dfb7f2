package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_Success(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "waiting")
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Update("still waiting")
	s.Success("connected")

	out := buf.String()
	if !strings.Contains(out, "waiting") || !strings.HasSuffix(out, "✓ connected\n") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "x")
	s.Start()
	s.Fail("boom")
	s.Stop()
	s.Success("ignored")

	if strings.Contains(buf.String(), "ignored") {
		t.Errorf("only the first finish should print: %q", buf.String())
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "x")

	done := make(chan struct{})
	go func() {
		s.Fail("never started")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Fail blocked without Start")
	}
	if !strings.Contains(buf.String(), "never started") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
