// Package status keeps the result of the last evaluation cycle in memory and
// serves it as JSON.
//
// NewHandler(store, history) returns an http.Handler that serves:
//
//	GET /api/v1/health        ok | stale | unknown, plus the last cycle id
//	GET /api/v1/worst         the worst performer of the last cycle
//	GET /api/v1/evaluations   every pair of the last cycle with its outcome
//	GET /api/v1/observations  stored measurements for ?service=&metric=
//
// Non-GET methods get 405. A cycle older than the store TTL is reported as
// stale.
package status
