/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the bundle
manager, tracking HTTP requests, bundle lifecycle operations, installd RPC
calls, and system metrics.

# Features

- HTTP request metrics (latency, throughput, size)
- Bundle operation metrics (install, update, uninstall, patch durations)
- Installd RPC metrics (latency, status)
- Registry population gauges
- WebSocket connection metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record custom metrics
	metrics.SetBundlesTracked(12)

	// Time operations
	timer := monitoring.NewTimer(metrics, "install")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
