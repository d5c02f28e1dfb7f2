package wsbridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/transport"
)

const testTimeout = 2 * time.Second

// gatewayConn is the server side of one bridged session.
type gatewayConn struct {
	t     *testing.T
	path  string
	conn  *websocket.Conn
	hello Frame
}

func (g *gatewayConn) send(f Frame) {
	g.t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		g.t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := g.conn.Write(ctx, websocket.MessageText, data); err != nil {
		g.t.Fatalf("gateway write: %v", err)
	}
}

func (g *gatewayConn) read() Frame {
	g.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, data, err := g.conn.Read(ctx)
	if err != nil {
		g.t.Fatalf("gateway read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		g.t.Fatal(err)
	}
	return f
}

// fakeGateway accepts bridge connections and hands them to the test.
type fakeGateway struct {
	srv   *httptest.Server
	conns chan *gatewayConn
	done  chan struct{}
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	return startFakeGateway(t, false)
}

func startFakeGateway(t *testing.T, useTLS bool) *fakeGateway {
	t.Helper()
	g := &fakeGateway{conns: make(chan *gatewayConn, 4), done: make(chan struct{})}
	g.srv = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		gc := &gatewayConn{t: t, path: r.URL.Path, conn: conn}
		ctx, cancel := context.WithTimeout(r.Context(), testTimeout)
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			return
		}
		if err := json.Unmarshal(data, &gc.hello); err != nil {
			return
		}
		g.conns <- gc
		<-g.done
	}))
	if useTLS {
		g.srv.StartTLS()
	} else {
		g.srv.Start()
	}
	t.Cleanup(func() {
		close(g.done)
		g.srv.Close()
	})
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/v1/"
}

func (g *fakeGateway) accept(t *testing.T) *gatewayConn {
	t.Helper()
	select {
	case gc := <-g.conns:
		return gc
	case <-time.After(testTimeout):
		t.Fatal("no bridge connection")
		return nil
	}
}

func newTestFactory(t *testing.T, gatewayURL string) *Factory {
	t.Helper()
	f, err := NewFactory(Config{
		GatewayURL:  gatewayURL,
		DialTimeout: time.Second,
		SendTimeout: time.Second,
		EventQueue:  4,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func nextEvent(t *testing.T, tr transport.Transport) domain.TransportEvent {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(testTimeout):
		t.Fatal("no event")
	}
	return domain.TransportEvent{}
}

func expectStreamClosed(t *testing.T, tr transport.Transport) {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream not closed")
		}
	}
}

func TestBridge_Lifecycle(t *testing.T) {
	gw := newFakeGateway(t)
	f := newTestFactory(t, gw.url())
	ctx := context.Background()

	credPath := filepath.Join(t.TempDir(), "s1")
	if err := os.MkdirAll(credPath, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(credPath, CredentialsFile), []byte(`{"k":1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tr, err := f.Start(ctx, "s1", credPath)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	gc := gw.accept(t)
	if gc.path != "/v1/sessions/s1" {
		t.Errorf("unexpected path %q", gc.path)
	}
	if gc.hello.Type != FrameHello || string(gc.hello.Credentials) != `{"k":1}` {
		t.Errorf("unexpected hello %+v", gc.hello)
	}

	gc.send(Frame{Type: FramePairing, Challenge: "Q1"})
	if ev := nextEvent(t, tr); ev.Kind != domain.EventPairingChallenge || ev.Challenge != "Q1" {
		t.Errorf("expected pairing Q1, got %+v", ev)
	}

	gc.send(Frame{Type: FrameOpen, Identity: "5551234:2@s.whatsapp.net"})
	if ev := nextEvent(t, tr); ev.Kind != domain.EventConnectionState || ev.State != domain.ConnectionOpen || ev.Identity != "5551234:2@s.whatsapp.net" {
		t.Errorf("expected open, got %+v", ev)
	}

	gc.send(Frame{Type: FrameCreds, Data: []byte(`{"k":2}`)})
	gc.send(Frame{Type: FrameCreds})
	gc.send(Frame{Type: FrameActivity})
	if ev := nextEvent(t, tr); ev.Kind != domain.EventCredentialsRotated || string(ev.Credentials) != `{"k":2}` {
		t.Errorf("expected rotated credentials, got %+v", ev)
	}
	if ev := nextEvent(t, tr); ev.Kind != domain.EventInboundActivity {
		t.Errorf("expected activity after empty creds frame, got %+v", ev)
	}
	// The bridge leaves the directory to the session owner.
	creds, err := os.ReadFile(filepath.Join(credPath, CredentialsFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(creds) != `{"k":1}` {
		t.Errorf("bridge should not rewrite creds.json, got %s", creds)
	}

	t.Run("send acked", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() { errCh <- tr.Send(ctx, "5559999@s.whatsapp.net", "hi") }()

		req := gc.read()
		if req.Type != FrameSend || req.To != "5559999@s.whatsapp.net" || req.Body != "hi" || req.Ref == "" {
			t.Fatalf("unexpected send frame %+v", req)
		}
		gc.send(Frame{Type: FrameAck, Ref: req.Ref})
		if err := <-errCh; err != nil {
			t.Errorf("expected success, got %v", err)
		}
	})

	t.Run("send rejected", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() { errCh <- tr.Send(ctx, "bad", "hi") }()

		req := gc.read()
		gc.send(Frame{Type: FrameAck, Ref: req.Ref, Error: "invalid recipient"})
		if err := <-errCh; err == nil || !strings.Contains(err.Error(), "invalid recipient") {
			t.Errorf("expected invalid recipient error, got %v", err)
		}
	})

	t.Run("logout", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() { errCh <- tr.Logout(ctx) }()

		req := gc.read()
		if req.Type != FrameLogout {
			t.Fatalf("expected logout frame, got %+v", req)
		}
		gc.send(Frame{Type: FrameAck, Ref: req.Ref})
		if err := <-errCh; err != nil {
			t.Errorf("expected success, got %v", err)
		}
	})

	gc.send(Frame{Type: FrameClosed, Reason: domain.CloseReasonLoggedOut, StatusCode: 401})
	ev := nextEvent(t, tr)
	if ev.State != domain.ConnectionClosed || !domain.IsPermanentLogout(ev.Err) {
		t.Errorf("expected permanent logout close, got %+v", ev)
	}
	expectStreamClosed(t, tr)

	if err := tr.Send(ctx, "x", "y"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestBridge_NewSessionHasNoCredentials(t *testing.T) {
	gw := newFakeGateway(t)
	f := newTestFactory(t, gw.url())

	tr, err := f.Start(context.Background(), "fresh", filepath.Join(t.TempDir(), "fresh"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	gc := gw.accept(t)
	if len(gc.hello.Credentials) != 0 {
		t.Errorf("expected empty credentials, got %q", gc.hello.Credentials)
	}
}

func TestBridge_TransientClose(t *testing.T) {
	gw := newFakeGateway(t)
	f := newTestFactory(t, gw.url())

	tr, err := f.Start(context.Background(), "s1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	gc := gw.accept(t)
	gc.send(Frame{Type: FrameClosed, Reason: "stream_error", StatusCode: 515})
	ev := nextEvent(t, tr)
	if ev.State != domain.ConnectionClosed || domain.IsPermanentLogout(ev.Err) {
		t.Errorf("expected transient close, got %+v", ev)
	}
	expectStreamClosed(t, tr)
}

func TestBridge_SocketDrop(t *testing.T) {
	gw := newFakeGateway(t)
	f := newTestFactory(t, gw.url())

	tr, err := f.Start(context.Background(), "s1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	gc := gw.accept(t)
	gc.conn.CloseNow()

	ev := nextEvent(t, tr)
	if ev.State != domain.ConnectionClosed || domain.IsPermanentLogout(ev.Err) {
		t.Errorf("expected transient close, got %+v", ev)
	}
	var ce *domain.CloseError
	if !errors.As(ev.Err, &ce) || ce.Reason != ReasonReadFailed {
		t.Errorf("expected read_failed close error, got %v", ev.Err)
	}
}

func TestBridge_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	gatewayURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	f := newTestFactory(t, gatewayURL)
	tr, err := f.Start(context.Background(), "s1", t.TempDir())
	if err != nil {
		t.Fatalf("start must not wait for the connection, got %v", err)
	}
	defer tr.Close()

	ev := nextEvent(t, tr)
	var ce *domain.CloseError
	if ev.State != domain.ConnectionClosed || !errors.As(ev.Err, &ce) || ce.Reason != ReasonDialFailed {
		t.Errorf("expected dial_failed close, got %+v", ev)
	}
	expectStreamClosed(t, tr)
}

func TestBridge_TLSGateway(t *testing.T) {
	gw := startFakeGateway(t, true)
	pool := x509.NewCertPool()
	pool.AddCert(gw.srv.Certificate())

	f, err := NewFactory(Config{
		GatewayURL:  gw.url(),
		DialTimeout: time.Second,
		TLS:         &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}

	tr, err := f.Start(context.Background(), "secure", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	gc := gw.accept(t)
	if gc.path != "/v1/sessions/secure" {
		t.Errorf("path = %q", gc.path)
	}
}

func TestBridge_TLSGatewayUntrusted(t *testing.T) {
	gw := startFakeGateway(t, true)
	f := newTestFactory(t, gw.url())

	tr, err := f.Start(context.Background(), "s1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ev := nextEvent(t, tr)
	var ce *domain.CloseError
	if ev.State != domain.ConnectionClosed || !errors.As(ev.Err, &ce) || ce.Reason != ReasonDialFailed {
		t.Errorf("expected dial_failed close for untrusted gateway, got %+v", ev)
	}
}

func TestBridge_CloseWithoutConsumer(t *testing.T) {
	gw := newFakeGateway(t)
	f := newTestFactory(t, gw.url())

	tr, err := f.Start(context.Background(), "s1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gc := gw.accept(t)
	for i := 0; i < 16; i++ {
		gc.send(Frame{Type: FrameActivity})
	}

	done := make(chan struct{})
	go func() {
		tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("close blocked on unconsumed events")
	}
}

func TestFactory_StartReplaces(t *testing.T) {
	gw := newFakeGateway(t)
	f := newTestFactory(t, gw.url())
	ctx := context.Background()

	first, err := f.Start(ctx, "s1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gw.accept(t)

	second, err := f.Start(ctx, "s1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	gw.accept(t)

	expectStreamClosed(t, first)
}

func TestNewFactory_Validation(t *testing.T) {
	for _, raw := range []string{"", "http://gateway", "ws://", "://bad"} {
		if _, err := NewFactory(Config{GatewayURL: raw}, nil); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
	if _, err := NewFactory(Config{GatewayURL: "wss://gateway.example/v1"}, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
