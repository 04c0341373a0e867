// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET/DELETE /v1/projects for the project definitions.
//   - POST /v1/runs, GET /v1/runs[/{run_id}] and POST /v1/runs/{run_id}/cancel
//     for queuing, inspecting and canceling tracking runs.
package api
