// Package service provides the domain services of wamesh.
//
// SessionManager is the lifecycle manager for many concurrent messaging
// sessions. It owns the live session map, runs one worker goroutine per
// session that consumes the transport's ordered event stream, reconnects
// transient failures in place and purges sessions whose account logged out.
//
// MessageService is the boundary used by the request layer to send a
// message and record the attempt in the message log.
//
// Storage, transport and event publishing are consumed through the small
// interfaces declared in ports.go so every collaborator can be replaced in
// tests.
package service
