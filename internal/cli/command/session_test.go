package command

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yndnr/wamesh-go/internal/cli/connection"
)

func TestSessionCreate(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusCreated, sampleSession("sess-custom", "connecting"))
	})

	out, _, err := h.run("session", "create", "--client-id", "acme", "--id", "sess-custom")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	req := h.srv.last(t)
	if req.Body["clientId"] != "acme" || req.Body["sessionId"] != "sess-custom" {
		t.Errorf("body = %v", req.Body)
	}
	if !strings.Contains(out, "sess-custom") || !strings.Contains(out, "connecting") {
		t.Errorf("output:\n%s", out)
	}
}

func TestSessionCreate_MissingClientID(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run("session", "create"); err == nil {
		t.Fatal("expected error for missing --client-id")
	}
	if h.srv.count() != 0 {
		t.Error("request sent without client id")
	}
}

func TestSessionCreate_Conflict(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusConflict, "WA-SESS-4090", "session already exists")
	})

	_, _, err := h.run("session", "create", "-c", "acme", "--id", "dup")
	var apiErr *connection.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "WA-SESS-4090" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSessionCreate_Wait(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusCreated, sampleSession("sess-1", "connecting"))
	})

	var polls atomic.Int32
	h.srv.handle("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s := sampleSession(r.PathValue("id"), "connecting")
		if polls.Add(1) >= 2 {
			s["status"] = "awaiting-scan"
			s["pairing_challenge"] = "2@challenge"
		}
		writeData(w, http.StatusOK, s)
	})

	out, stderr, err := h.run("-o", "json", "session", "create", "-c", "acme", "--wait")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if s.Status != "awaiting-scan" || s.PairingChallenge != "2@challenge" {
		t.Errorf("session = %+v", s)
	}
	if !strings.Contains(stderr, "Pairing challenge ready") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestSessionCreate_WaitTimeout(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusCreated, sampleSession("sess-1", "connecting"))
	})
	h.srv.handle("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, sampleSession("sess-1", "connecting"))
	})

	_, _, err := h.run("session", "create", "-c", "acme", "--wait", "--wait-timeout", "700ms")
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionCreate_WaitSessionGone(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusCreated, sampleSession("sess-1", "connecting"))
	})
	h.srv.handle("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "WA-SESS-4040", "session not found")
	})

	_, _, err := h.run("session", "create", "-c", "acme", "--wait")
	if err == nil || !strings.Contains(err.Error(), "WA-SESS-4040") {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionList(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []any{
			sampleSession("sess-a", "connected"),
			sampleSession("sess-b", "awaiting-scan"),
		})
	})

	out, _, err := h.run("session", "list", "--client-id", "acme")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := h.srv.last(t).Query["clientId"]; len(got) != 1 || got[0] != "acme" {
		t.Errorf("clientId query = %v", got)
	}
	for _, want := range []string{"SESSION ID", "STATUS", "sess-a", "sess-b", "awaiting-scan"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "LAST ACTIVITY") {
		t.Error("narrow output shows wide column")
	}

	wide, _, err := h.run("--wide", "session", "ls")
	if err != nil {
		t.Fatalf("run wide: %v", err)
	}
	if !strings.Contains(wide, "LAST ACTIVITY") {
		t.Errorf("wide output:\n%s", wide)
	}
	if _, ok := h.srv.last(t).Query["clientId"]; ok {
		t.Error("empty clientId should not be sent")
	}
}

func TestSessionList_Empty(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []any{})
	})

	out, _, err := h.run("session", "list")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "No sessions.") {
		t.Errorf("output = %q", out)
	}

	out, _, err = h.run("-o", "json", "session", "list")
	if err != nil {
		t.Fatalf("run json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("json output = %q", out)
	}
}

func TestSessionGet(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "sess-a" {
			writeFailure(w, http.StatusNotFound, "WA-SESS-4040", "session not found")
			return
		}
		s := sampleSession("sess-a", "connected")
		s["phone_identity"] = "5551234"
		writeData(w, http.StatusOK, s)
	})

	out, _, err := h.run("session", "get", "sess-a")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "phone_identity") || !strings.Contains(out, "5551234") {
		t.Errorf("output:\n%s", out)
	}

	if _, _, err := h.run("session", "get"); err == nil || !strings.Contains(err.Error(), "session ID required") {
		t.Errorf("missing arg err = %v", err)
	}

	_, _, err = h.run("session", "get", "nope")
	var apiErr *connection.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "WA-SESS-4040" {
		t.Errorf("err = %v", err)
	}
}

func TestSessionQR(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("GET /api/sessions/{id}/qr", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{
			"session_id": r.PathValue("id"),
			"qr_code":    "2@abc,def",
			"status":     "awaiting-scan",
		})
	})

	out, _, err := h.run("session", "qr", "sess-a")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "2@abc,def\n" {
		t.Errorf("table output = %q", out)
	}

	out, _, err = h.run("-o", "json", "session", "qr", "sess-a")
	if err != nil {
		t.Fatalf("run json: %v", err)
	}
	var qr PairingChallenge
	if err := json.Unmarshal([]byte(out), &qr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qr.SessionID != "sess-a" || qr.Challenge != "2@abc,def" {
		t.Errorf("qr = %+v", qr)
	}
}

func TestSessionDelete(t *testing.T) {
	h := newHarness(t)
	h.srv.handle("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "session deleted"})
	})

	t.Run("force", func(t *testing.T) {
		out, _, err := h.run("session", "delete", "--force", "sess-a")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if req := h.srv.last(t); req.Method != http.MethodDelete || req.Path != "/api/sessions/sess-a" {
			t.Errorf("request = %s %s", req.Method, req.Path)
		}
		if !strings.Contains(out, "Session sess-a deleted.") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("declined", func(t *testing.T) {
		before := h.srv.count()
		h.stdin = "n\n"
		out, _, err := h.run("session", "rm", "sess-b")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !strings.Contains(out, "Cancelled.") {
			t.Errorf("output = %q", out)
		}
		if h.srv.count() != before {
			t.Error("request sent after declining")
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		h.stdin = "y\n"
		if _, _, err := h.run("session", "delete", "sess-c"); err != nil {
			t.Fatalf("run: %v", err)
		}
		if req := h.srv.last(t); req.Path != "/api/sessions/sess-c" {
			t.Errorf("path = %s", req.Path)
		}
	})
}
