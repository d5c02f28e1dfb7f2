package command

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"
)

// mockServer is a fake wamesh-server that records what it receives.
type mockServer struct {
	*httptest.Server
	mux *http.ServeMux

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   map[string]any
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{mux: http.NewServeMux()}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		m.mu.Lock()
		m.requests = append(m.requests, rec)
		m.mu.Unlock()
		m.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(pattern string, h http.HandlerFunc) {
	m.mux.HandleFunc(pattern, h)
}

func (m *mockServer) last(t *testing.T) recordedRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("server received no requests")
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockServer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	body := map[string]any{"success": true, "data": data}
	if items, ok := data.([]any); ok {
		body["count"] = len(items)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeFailure writes an error envelope.
func writeFailure(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    false,
		"error":      message,
		"code":       code,
		"request_id": "req-test",
	})
}

// harness runs the CLI in-process against a mock server with an isolated
// config file.
type harness struct {
	t          *testing.T
	srv        *mockServer
	configPath string
	stdin      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, k := range []string{"WAMESH_SERVER", "WAMESH_API_KEY", "WAMESH_PROFILE", "WAMESH_CLI_CONFIG", "WAMESH_NATS_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return &harness{
		t:          t,
		srv:        newMockServer(t),
		configPath: filepath.Join(t.TempDir(), "cli.yaml"),
	}
}

// run executes the CLI with --server pointing at the mock server.
func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	return h.runRaw(append([]string{"--server", h.srv.URL}, args...)...)
}

// runRaw executes the CLI with only --config preset.
func (h *harness) runRaw(args ...string) (string, string, error) {
	h.t.Helper()

	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Reader = strings.NewReader(h.stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	full := append([]string{"wamesh-cli", "--config", h.configPath}, args...)
	err := app.RunContext(ctx, full)
	return stdout.String(), stderr.String(), err
}

func sampleSession(id, status string) map[string]any {
	return map[string]any{
		"session_id":    id,
		"client_id":     "acme",
		"status":        status,
		"created_at":    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		"last_activity": time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
	}
}
