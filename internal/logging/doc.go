// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every component receives a *Logger at construction and scopes it with
// Named; there is no global logger.
//
// Example Usage:
//
//	logger := logging.NewDefault().Named("installer")
//	logger.Info("install finished", zap.String("bundle", name))
//	logger.Error("extract failed", zap.Error(err))
package logging
