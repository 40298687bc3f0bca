// Package http provides HTTP handlers and routing for the bundle manager REST API.
//
// This package implements all HTTP endpoints using the Gin framework, including
// health checks, bundle lifecycle operations, registry queries, and quick-fix
// patch management.
//
// Endpoints:
//   - Health: / and /health
//   - Lifecycle: /bundles/install, /bundles/:name/uninstall, /bundles/:name/recover
//   - Modules: /bundles/:name/modules/:module/uninstall
//   - Queries: /bundles, /bundles/:name, /abilities, /extensions/:type
//   - Quick fix: /quickfix/deploy, /quickfix/:name
//   - Stats: /stats and the Prometheus /metrics endpoint
//
// Features:
//   - JSON request/response handling
//   - Result codes mapped onto HTTP status codes
//   - Error response formatting
//   - Request validation
//
// Example Usage:
//
//	handlers := http.NewHandlers(installer, registry, quickfix, hub, metrics)
//	router.GET("/health", handlers.Health)
//	router.POST("/bundles/install", handlers.Install)
package http
