// Package config handles configuration loading for folio-gateway.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. The package applies defaults and validates
// the result before anything starts listening.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FOLIO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/folio/gateway.yaml
//  3. ~/.config/folio/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FOLIO_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  session_duration: "24h"
//	  refresh_margin: "5m"
//	lockout:
//	  window: "15m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  trusted_proxies: ["10.0.0.0/8"]   # X-Forwarded-For honored only from these
//
// Database (admin users, optional shared lockout table):
//
//	database:
//	  path: "/var/lib/folio/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${FOLIO_JWT_SECRET}"  # at least 32 bytes
//	  session_duration: "24h"
//	  refresh_margin: "5m"
//	  secure_cookies: true
//	  login_path: "/admin/login"
//	  landing_path: "/admin/dashboard"
//
// Lockout:
//
//	lockout:
//	  backend: "memory"       # memory, sqlite, redis
//	  max_attempts: 5
//	  window: "15m"
//	  redis_addr: "127.0.0.1:6379"
//
// Only the sqlite and redis backends are shared between gateway instances;
// the memory backend is a per-process approximation.
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	  file: "/var/log/folio/gateway.log"
package config
