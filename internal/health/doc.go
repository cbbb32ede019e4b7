// Package health tracks per-camera connection status and serves liveness
// and readiness probes over HTTP.
//
// The handler keeps no business logic of its own: it renders whatever the
// Monitor currently holds, the same thin-delegation split internal/mediamtx's
// HTTPHealthServer used between its HealthAPI and the HTTP layer.
//
// Endpoints:
//   - /healthz: process liveness (always ok once the server is serving)
//   - /readyz: overall readiness, 503 while any tracked component is
//     unhealthy (degraded components do not fail readiness)
package health
