// Package api describes the Pipeflow HTTP API.
//
// The handlers live in api/handlers; cmd/pipeflow mounts them behind the
// middleware chain.
//
// # Endpoints
//
//	GET  /v1/graphs                 list registered graphs
//	GET  /v1/graphs/{id}            graph definition
//	GET  /v1/runs                   list run states
//	POST /v1/runs                   start a run (202, or 200 with "wait": true)
//	GET  /v1/runs/{id}              run state
//	POST /v1/runs/{id}/resume       resume a paused run with human input
//	POST /v1/runs/{id}/abort        abort a run
//	GET  /v1/runs/{id}/events       websocket stream of one run's events
//	GET  /v1/events                 websocket stream of all events
//
// Health endpoints (/health, /healthz, /ready, /readyz, /version) are not
// authenticated. Metrics are served on a separate port.
//
// # Authentication
//
// When server.jwt_secret is set, /v1 endpoints require an HS256 bearer token:
//
//	Authorization: Bearer <token>
//
// The token subject is recorded as the actor of aborts.
//
// # Responses
//
// Every JSON response uses the same envelope:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "RUN_NOT_PAUSED", "message": "..."}}
package api
