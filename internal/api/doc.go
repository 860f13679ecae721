// Package api implements the HTTP surface of the shelfsync engine.
//
// New(notifier) returns an http.Handler that serves:
//
//	GET  /api/v1/health       — liveness probe
//	GET  /api/v1/collections  — cached snapshot paired with any fetch error
//	POST /api/v1/refresh      — trigger a refresh (?force=1 bypasses the TTL)
//	GET  /api/v1/status       — cache state, snapshot age, last error, counters
//	GET  /metrics             — Prometheus text exposition of the same
//
// Collections responses are non-blocking reads of the cache. The only
// blocking failure shape is a cache that is both empty and errored — that
// returns 503; every other failure rides alongside retained data with a 200.
//
// All endpoints respond with Content-Type: application/json except /metrics,
// and return 405 for unexpected methods. No external HTTP framework is used.
package api
