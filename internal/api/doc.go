// Package api implements the read-only HTTP status API and the live event
// WebSocket for the relay service.
//
// This package provides:
//   - REST endpoints for relay states, the kill switch and precharge status
//   - Journal queries over recently recorded events
//   - A WebSocket hub that streams relay, kill-switch and precharge events
//   - The Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Read-only
//
// Relays are switched exclusively over MQTT. The API never changes relay
// state, so a dashboard or monitoring agent cannot bypass the kill switch
// or the precharge interlock.
//
// # Graceful Degradation
//
// The journal and metrics are optional. Endpoints that depend on a missing
// collaborator answer 503 and everything else keeps working.
package api
