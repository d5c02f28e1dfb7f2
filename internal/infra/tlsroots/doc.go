// Package tlsroots loads TLS material for wamesh-server.
//
// LoadPool builds the root CA pool used to verify a wss:// gateway, and
// Watcher serves the HTTPS certificate, reloading it when the files on
// disk are replaced.
package tlsroots
