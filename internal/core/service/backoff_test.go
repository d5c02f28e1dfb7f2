package service

import (
	"math/rand"
	"testing"
	"time"
)

func TestReconnectPolicy_Delay(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
		{6, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.failures, nil); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestReconnectPolicy_Jitter(t *testing.T) {
	p := ReconnectPolicy{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		got := NextBackoffDelay(p, 3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jittered delay %v outside [200ms, 600ms]", got)
		}
	}
}

func TestReconnectPolicy_Exhausted(t *testing.T) {
	unlimited := ReconnectPolicy{}
	if unlimited.Exhausted(1000) {
		t.Error("zero MaxAttempts should never exhaust")
	}

	p := ReconnectPolicy{MaxAttempts: 3}
	if p.Exhausted(3) {
		t.Error("3 failures should be allowed with MaxAttempts 3")
	}
	if !p.Exhausted(4) {
		t.Error("4 failures should exhaust MaxAttempts 3")
	}
}

func TestNextBackoffDelay_Edges(t *testing.T) {
	if got := NextBackoffDelay(ReconnectPolicy{}, 5, nil); got != 0 {
		t.Errorf("zero initial delay should give 0, got %v", got)
	}
	p := ReconnectPolicy{InitialDelay: 50 * time.Millisecond, Multiplier: 0.5}
	if got := NextBackoffDelay(p, 4, nil); got != 50*time.Millisecond {
		t.Errorf("multiplier below 1 should clamp to 1, got %v", got)
	}
}

func TestDefaultReconnectPolicy(t *testing.T) {
	p := DefaultReconnectPolicy()
	if p.MaxAttempts != 0 {
		t.Errorf("default should retry without limit, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 || p.MaxDelay < p.InitialDelay {
		t.Errorf("unexpected default delays %+v", p)
	}
}
