// Package config provides 12-factor configuration management for the
// bundle manager backend.
//
// Configuration is loaded from environment variables with sensible
// defaults. The device profile (SDK version, system capabilities,
// capability flags, compatibility-policy selection) comes from a YAML file
// resolved once at startup; there is no conditional compilation and no
// runtime plugin loading.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Installd: privileged filesystem worker gRPC connection
//   - Storage: persistent store path and on-disk bundle roots
//   - AppControl: uninstall-disposal policy endpoint
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	profile, err := config.LoadProfile(cfg.Device.ProfilePath)
//
// Environment Variables:
//   - PORT, HOST, INSTALLD_ADDR, BUNDLE_DB_PATH, BUNDLE_APP_ROOT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
