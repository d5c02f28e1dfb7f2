// Package metric exposes wamesh metrics in Prometheus format.
//
// A Registry owns a private prometheus.Registry with the Go runtime and
// process collectors plus:
//
//   - session gauges by status and transition counters
//   - reconnect, restore error and message outcome counters
//   - HTTP request counters and latency histograms
//
// Registry satisfies the session manager's Metrics port, and its
// Handler is mounted at /metrics.
package metric
