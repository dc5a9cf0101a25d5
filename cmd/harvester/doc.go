// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api exposes POST /api/harvest, GET /api/progress/{session_id},
//     GET /api/download/{filename} and POST /api/verify-cookie alongside /healthz, /readyz and /metrics.
//   - Harvest pipeline: internal/orchestrator opens one chromedp session per request, injects the
//     caller's cookies, watches network traffic for the paginated answers endpoint and either replays
//     it through the colly fetcher or falls back to scrolling the rendered page.
//   - Persistence & fanout: exports are written as BOM-prefixed CSV to the local download directory.
//     A GCS mirror, a Postgres export ledger and a Pub/Sub completion event are enabled when configured.
//   - Configuration & plumbing: Viper populates config from an optional file and HARVESTER_* env vars;
//     a .env file is loaded first when present. zap provides structured logging and Prometheus
//     metrics are exported via the metrics middleware.
//
// Operational notes:
//   - Concurrency model: every request owns its browser session; the chromedp driver caps concurrent
//     sessions with a semaphore. Pagination is paced per host.
//   - Shutdown: SIGINT/SIGTERM drain the HTTP server, then close the browser allocator and every backend.
//
// Quick checklist:
//   - Run the service: go run ./cmd/harvester serve --config config.yaml
//   - One-off harvest: go run ./cmd/harvester run --url https://www.zhihu.com/question/123 --cookie-file cookie.txt
package main
