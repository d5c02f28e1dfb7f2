// Package transport declares the contract between the session manager and
// the connection that carries one messaging session.
//
// The wire protocol itself lives behind this contract: implementations
// (see wsbridge) turn it into an ordered stream of domain.TransportEvent
// values plus send and logout calls.
package transport

import (
	"context"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

// Transport is the live connection of one session.
//
// Events delivers the session's events in the order they occurred and is
// closed once the transport has stopped. Close must not block on a reader
// that stopped consuming Events.
type Transport interface {
	Events() <-chan domain.TransportEvent
	Send(ctx context.Context, to, body string) error
	Logout(ctx context.Context) error
	Close() error
}

// Factory starts transports. Start must not wait for the handshake; calling
// it again for the same session reconnects in place using the credential
// material under credentialPath. Transports only read that directory: new
// key material is reported with domain.EventCredentialsRotated.
type Factory interface {
	Start(ctx context.Context, sessionID, credentialPath string) (Transport, error)
}
