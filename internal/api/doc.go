// Package api hosts the HTTP server, middleware, and REST handlers for
// submitting and tracking harvest jobs. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/harvests to submit a start URL.
//   - GET /v1/harvests/{job_id}/status and /result, POST .../cancel.
package api
