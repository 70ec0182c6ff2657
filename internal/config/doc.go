// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every field has a default, so a missing file or a partial file is valid.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolgate/gateway.yaml
//  3. ~/.config/toolgate/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TOOLGATE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	transport:
//	  ping_interval: "30s"
//	  write_timeout: "10s"
//	gateway:
//	  default_timeout: "30s"
//	  circuit_breaker:
//	    recovery_time: "1m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"  # listener for /ws, /health, /metrics, /api/tools
//	  ws_path: "/ws"
//	  server_id: "toolgate"
//
//	transport:
//	  max_message_size: 1048576    # bytes per inbound frame
//	  broadcast_concurrency: 16    # parallel sends per broadcast
//
//	gateway:
//	  circuit_breaker:
//	    enabled: true
//	    failure_threshold: 5
//
//	auth:
//	  jwt_secret: "${TOOLGATE_JWT_SECRET}"
//	  require_auth: false          # reject upgrades without a valid token
//
//	ledger:
//	  path: "./toolgate.db"        # empty disables the invocation ledger
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
