// Package main provides the entry point for wamesh-server.
//
// The server hosts many concurrent messaging sessions behind one REST API:
//
//   - session lifecycle (create, pair, reconnect, delete) through a protocol gateway
//   - credential directories restored on startup, optionally mirrored to S3
//   - a message log kept in Badger or PostgreSQL
//   - lifecycle events published to NATS
//
// Usage:
//
//	wamesh-server [flags]
//	wamesh-server --config /path/to/config.yaml
//
// Configuration comes from defaults, the optional YAML file and WAMESH_*
// environment variables, in that order. The legacy PORT, API_SECRET_KEY,
// LOG_LEVEL and SESSIONS_DIR variables are honored too.
package main
