// Package httpserver serves the wamesh REST API.
//
// Every route registered by the handler package is wrapped in the same
// middleware chain: panic recovery, request IDs, access logging with
// Prometheus observation, CORS, API-key authentication and per-caller
// rate limiting. /health skips the last two. The metrics endpoint is
// mounted directly from the metric registry.
package httpserver
