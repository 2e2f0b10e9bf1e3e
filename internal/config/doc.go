// ABOUTME: Package documentation for fleet configuration
// ABOUTME: Documents file locations, env expansion, durations and defaults

// Package config handles configuration loading for fleet.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FLEET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/fleet/fleet.yaml
//  3. ~/.config/fleet/fleet.yaml
//
// FLEET_DB_PATH, when set, overrides database.path.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FLEET_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  handshake_timeout: "30s"
//	  max_reconnect_elapsed: "15m"
//
// A max_reconnect_elapsed of zero (the default) retries forever.
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8090"
//	database:
//	  path: "/var/lib/fleet/fleet.db"
//	upstream:
//	  api_base_url: "https://api.example.com/api/v10"
//	  gateway_url: "wss://gateway.example.com"
//	gateway:
//	  reconnect: true
//	  zombie_detection: false
//	logging:
//	  level: "info"
//	  format: "text"
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
