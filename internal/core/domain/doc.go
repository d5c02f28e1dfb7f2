// Package domain defines the core domain models for wamesh.
//
// Domain models are pure value objects without IO dependencies or framework
// coupling. This package contains:
//
//   - Session: the observable record of one messaging session and its Status
//   - Metadata: the manager-owned part of a credential bundle
//   - TransportEvent: the events a transport emits for a session
//   - MessageLog: one recorded send attempt and its query filters
//   - Errors: coded domain errors shared by every layer
package domain
