// Package wsbridge implements the session transport by bridging to a
// protocol gateway over WebSocket.
//
// Each session gets its own socket at {gateway}/sessions/{id}. The bridge
// announces the session's stored credentials in a hello frame and then
// translates the gateway's frames into domain transport events. Rotated
// credentials pushed by the gateway become credentials events; the session
// manager persists them.
package wsbridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/storage/credstore"
	"github.com/yndnr/wamesh-go/internal/transport"
)

// CredentialsFile holds the gateway's key material inside a session directory.
// The bridge only reads it; rotations are handed to the session owner as
// credentials events.
const CredentialsFile = credstore.CredentialsFile

// Close reasons reported for failures detected locally.
const (
	ReasonDialFailed = "dial_failed"
	ReasonReadFailed = "read_failed"
)

var (
	// ErrNotConnected is returned when a request cannot reach the gateway.
	ErrNotConnected = errors.New("wsbridge: not connected")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("wsbridge: transport closed")
)

// Config configures the bridge.
type Config struct {
	// GatewayURL is the ws:// or wss:// base URL of the gateway.
	GatewayURL string
	// Token is sent as a bearer token on the upgrade request when set.
	Token string
	// DialTimeout bounds the WebSocket handshake. Default: 10s.
	DialTimeout time.Duration
	// SendTimeout bounds waiting for a send or logout acknowledgment. Default: 30s.
	SendTimeout time.Duration
	// EventQueue is the per-session event buffer. Default: 64.
	EventQueue int
	// ReadLimit caps inbound frame size. Default: 1MiB.
	ReadLimit int64
	// TLS verifies wss:// gateways. Nil uses the system roots.
	TLS *tls.Config
}

func (c *Config) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.EventQueue <= 0 {
		c.EventQueue = 64
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
}

// Factory starts one bridge connection per session.
type Factory struct {
	cfg    Config
	base   *url.URL
	log    *slog.Logger
	client *http.Client

	mu   sync.Mutex
	live map[string]*Transport
}

var _ transport.Factory = (*Factory)(nil)

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg Config, log *slog.Logger) (*Factory, error) {
	base, err := url.Parse(strings.TrimRight(cfg.GatewayURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("wsbridge: parse gateway url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("wsbridge: unsupported gateway scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, errors.New("wsbridge: gateway url missing host")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.setDefaults()

	var client *http.Client
	if cfg.TLS != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = cfg.TLS
		client = &http.Client{Transport: tr}
	}
	return &Factory{
		cfg:    cfg,
		base:   base,
		log:    log.With("component", "wsbridge"),
		client: client,
		live:   make(map[string]*Transport),
	}, nil
}

// Start connects sessionID in the background. A transport still live for
// the same session is closed first.
func (f *Factory) Start(ctx context.Context, sessionID, credentialPath string) (transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := *f.base
	u.Path = u.Path + "/sessions/" + url.PathEscape(sessionID)

	t := newTransport(f, sessionID, credentialPath, u.String())

	f.mu.Lock()
	old := f.live[sessionID]
	f.live[sessionID] = t
	f.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go t.run()
	return t, nil
}

func (f *Factory) release(t *Transport) {
	f.mu.Lock()
	if f.live[t.sessionID] == t {
		delete(f.live, t.sessionID)
	}
	f.mu.Unlock()
}

// Transport is one session's bridge connection.
type Transport struct {
	factory   *Factory
	sessionID string
	credPath  string
	endpoint  string
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan domain.TransportEvent
	done   chan struct{}

	// ready is closed once the hello frame has been written.
	ready chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Frame
	nextRef   atomic.Uint64

	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

func newTransport(f *Factory, sessionID, credPath, endpoint string) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		factory:   f,
		sessionID: sessionID,
		credPath:  credPath,
		endpoint:  endpoint,
		log:       f.log.With("session_id", sessionID),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan domain.TransportEvent, f.cfg.EventQueue),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		pending:   make(map[string]chan Frame),
	}
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan domain.TransportEvent { return t.events }

// Send asks the gateway to deliver body to to and waits for its ack.
func (t *Transport) Send(ctx context.Context, to, body string) error {
	return t.request(ctx, Frame{Type: FrameSend, To: to, Body: body})
}

// Logout asks the gateway to log the account out and waits for its ack.
func (t *Transport) Logout(ctx context.Context) error {
	return t.request(ctx, Frame{Type: FrameLogout})
}

// Close tears the connection down. Events is closed once the reader has
// exited; the reader never blocks on an unconsumed Events channel after
// Close.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.connMu.Lock()
		if t.conn != nil {
			_ = t.conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		t.connMu.Unlock()
		<-t.done
		t.factory.release(t)
	})
	return nil
}

func (t *Transport) request(ctx context.Context, frame Frame) error {
	select {
	case <-t.ready:
	case <-t.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	frame.Ref = strconv.FormatUint(t.nextRef.Add(1), 10)
	ackCh := make(chan Frame, 1)
	t.pendingMu.Lock()
	if t.pending == nil {
		t.pendingMu.Unlock()
		return ErrNotConnected
	}
	t.pending[frame.Ref] = ackCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		if t.pending != nil {
			delete(t.pending, frame.Ref)
		}
		t.pendingMu.Unlock()
	}()

	if err := t.write(ctx, frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}

	timer := time.NewTimer(t.factory.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ackCh:
		if !ok {
			return ErrNotConnected
		}
		if ack.Error != "" {
			return errors.New(ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: no ack within %s", frame.Type, t.factory.cfg.SendTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) write(ctx context.Context, frame Frame) error {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, t.factory.cfg.SendTimeout)
	defer cancel()
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.Write(wctx, websocket.MessageText, data)
}

// run dials the gateway, sends hello and pumps inbound frames. It is the
// only writer of t.events.
func (t *Transport) run() {
	defer func() {
		t.failPending()
		close(t.events)
		close(t.done)
	}()

	conn, err := t.dial()
	if err != nil {
		if t.ctx.Err() == nil {
			t.log.Warn("gateway dial failed", "endpoint", t.endpoint, "error", err)
			t.emit(domain.ClosedEvent(&domain.CloseError{Reason: ReasonDialFailed, Err: err}))
		}
		return
	}
	defer conn.CloseNow()

	if err := t.hello(); err != nil {
		if t.ctx.Err() == nil {
			t.emit(domain.ClosedEvent(&domain.CloseError{Reason: ReasonDialFailed, Err: err}))
		}
		return
	}
	close(t.ready)

	for {
		_, data, err := conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			code := 0
			if status := websocket.CloseStatus(err); status != -1 {
				code = int(status)
			}
			t.emit(domain.ClosedEvent(&domain.CloseError{Code: code, Reason: ReasonReadFailed, Err: err}))
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.log.Warn("dropping malformed gateway frame", "error", err)
			continue
		}
		if stop := t.handle(frame); stop {
			return
		}
	}
}

func (t *Transport) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.factory.cfg.DialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{HTTPClient: t.factory.client}
	if tok := t.factory.cfg.Token; tok != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + tok}}
	}
	conn, resp, err := websocket.Dial(ctx, t.endpoint, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(t.factory.cfg.ReadLimit)

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	if t.ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		return nil, t.ctx.Err()
	}
	return conn, nil
}

func (t *Transport) hello() error {
	creds, err := os.ReadFile(filepath.Join(t.credPath, CredentialsFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read credentials: %w", err)
	}
	return t.write(t.ctx, Frame{Type: FrameHello, Credentials: creds})
}

// handle applies one inbound frame and reports whether the connection is over.
func (t *Transport) handle(frame Frame) bool {
	switch frame.Type {
	case FramePairing:
		t.emit(domain.PairingEvent(frame.Challenge))
	case FrameOpen:
		t.emit(domain.OpenEvent(frame.Identity))
	case FrameActivity:
		t.emit(domain.ActivityEvent())
	case FrameCreds:
		if len(frame.Data) == 0 {
			t.log.Warn("ignoring empty credentials frame")
			break
		}
		t.emit(domain.CredentialsEvent(frame.Data))
	case FrameAck:
		t.pendingMu.Lock()
		ch := t.pending[frame.Ref]
		t.pendingMu.Unlock()
		if ch != nil {
			select {
			case ch <- frame:
			default:
			}
		}
	case FrameClosed:
		t.emit(domain.ClosedEvent(&domain.CloseError{Code: frame.StatusCode, Reason: frame.Reason}))
		return true
	default:
		t.log.Debug("ignoring unknown gateway frame", "type", frame.Type)
	}
	return false
}

// emit delivers ev unless the transport is being closed.
func (t *Transport) emit(ev domain.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *Transport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for _, ch := range t.pending {
		close(ch)
	}
	t.pending = nil
}
