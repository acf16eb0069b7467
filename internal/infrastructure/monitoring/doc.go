/*
Package monitoring provides Prometheus metrics for a pipeline run.

# Overview

Metrics covers the process as a whole: model calls, reads loaded, the
status server's HTTP and WebSocket traffic and uptime. StatsCollector
exports the per-stage counters a pipeline samples on demand, so stage
statistics need no registration of their own.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	reg.MustRegister(monitoring.NewStatsCollector(p.SampleStats))

	// Time model calls
	timer := monitoring.NewTimer(metrics, "basecaller", len(chunks))
	res, err := caller.Call(ctx, chunks)
	timer.Stop(err)

	// Add middleware to the status router
	router.Use(monitoring.Middleware(metrics))

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
