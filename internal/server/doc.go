// Package server provides the optional status server of a readpipe run.
//
// Routes:
//   - GET /health: liveness, run ID and uptime
//   - GET /stats: stage statistics grouped by node, plus run metrics
//   - GET /metrics: Prometheus exposition of the run's registry
//   - GET /stream: websocket pushing stage statistics every interval
//
// Middleware stack: recovery, request logging, request metrics, CORS and
// optional per-IP rate limiting.
//
// Example Usage:
//
//	srv := server.New(server.ConfigFrom(cfg, runID), source, metrics, reg, logger)
//	g.Go(func() error { return srv.Run(ctx) })
package server
