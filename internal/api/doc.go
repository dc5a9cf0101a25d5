// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /api/harvest runs one harvest synchronously and returns its records.
//   - GET /api/progress/{session_id} reports the phase of a running harvest.
//   - GET /api/download/{filename} streams a written export.
//   - POST /api/verify-cookie checks a credential against the site.
//   - GET /healthz, /readyz and /metrics for liveness checks and Prometheus scraping.
package api
