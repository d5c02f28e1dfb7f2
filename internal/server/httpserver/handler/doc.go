// Package handler provides the HTTP endpoints of wamesh-server.
//
//   - health.go: liveness and session count
//   - session.go: create, list, get, pairing challenge, delete
//   - message.go: send, log listing, statistics
//
// Every JSON response uses the Response envelope. Domain errors are mapped
// to HTTP status codes by the numeric suffix of their code.
package handler
