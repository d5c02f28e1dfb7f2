// Package logger provides structured logging for wamesh.
//
// It wraps log/slog with JSON or text output, a process-wide level that
// can be changed at runtime, and an attribute filter that keeps secrets
// and message content out of the log:
//
//   - values under keys such as password, token or api_key are replaced
//   - message bodies are reduced to their length
//   - phone addresses keep only their first and last three digits
//
// Request IDs travel through context.Context; see WithRequestID and L.
package logger
