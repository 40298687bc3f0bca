// Package main is the entry point for the bundle manager service.
//
// This application tracks the full lifecycle of installed bundles: a
// validated install state machine over an in-memory registry, write-ahead
// persistence to SQLite, transactional install/update/uninstall with crash
// recovery, quick-fix patch overlays, and a query surface.
//
// Architecture:
//
//	Admin clients (REST/WS) → Bundle Manager → installd worker (gRPC)
//	                                        → SQLite store
//
// The server provides:
//   - REST API for bundle lifecycle and queries
//   - WebSocket streaming of bundle change events
//   - Prometheus metrics
//   - Rate limiting and CORS
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8100 -installd localhost:50061
//
//	# Development mode (colored logs, debug level, no worker daemon)
//	./server -dev -no-installd
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
