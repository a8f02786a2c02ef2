// Package config handles configuration loading for relay-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relay/gateway.yaml
//  3. ~/.config/relay/gateway.yaml
//
// Files ending in .toml are parsed as TOML; anything else is YAML.
//
// # Environment Variables
//
// Values can reference the environment before parsing:
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//
// After parsing, these variables override the file when set:
// RELAY_DB_DRIVER, RELAY_DB_DSN, GEMINI_API_KEY, RELAY_JWT_SECRET,
// RELAY_HTTP_ADDR, RELAY_LOG_LEVEL. The serve command loads .env from the
// working directory first.
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//	  grpc_addr: "localhost:50051"   # optional
//
//	database:
//	  driver: "sqlite"               # memory, sqlite, sqlite3, badger, redis, postgres
//	  dsn: "/var/lib/relay/relay.db"
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//	  token_ttl: "24h"
//
//	completion:
//	  api_key: "${GEMINI_API_KEY}"
//	  model: "gemini-1.5-flash-latest"
//	  timeout: "30s"
//
//	conversation:
//	  serialize_per_user: false
//	  strict_persistence: false
//	  idempotency_ttl: "10m"
//
//	frontends:
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.org"
//	    user_id: "@relay:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    allowed_rooms: ["!room:matrix.org"]
//	    command_prefix: "!ask"
//	    typing_indicator: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	  file: ""        # rotated with lumberjack when set
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
//	tracing:
//	  enabled: false
//	  file: "relay-traces.jsonl"
//
// # Validation
//
// Load applies defaults and then Validate, which reports the first problem:
// a missing http_addr without tailscale, a missing tailscale hostname, an
// unknown database driver, a missing dsn for a persistent driver, an
// unknown logging format, or an enabled Matrix frontend without homeserver,
// user_id, and access_token. A missing completion API key is allowed.
package config
