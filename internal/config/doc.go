// Package config handles configuration loading for asobi-gateway.
//
// # Overview
//
// Configuration is layered: built-in defaults, then an optional YAML or TOML
// file, then environment variables. The result is validated before use.
//
// # Configuration File
//
// The file path comes from the --config flag or ASOBI_CONFIG. Files ending in
// .toml are parsed as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	auth:
//	  id_token:
//	    secret: "${ASOBI_ID_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// These variables override file values when set:
//
//	ADMIN_API_TOKEN            auth.admin_token
//	MAILER_ENDPOINT            mailer.endpoint
//	REQUIRE_APP_CHECK          auth.require_app_check
//	ALLOWED_ORIGINS            cors.allowed_origins (comma separated)
//	ASOBI_HTTP_ADDR            server.http_addr
//	ASOBI_DB_DRIVER            database.driver
//	ASOBI_DB_DSN               database.dsn
//	ASOBI_LOG_LEVEL            logging.level
//	ASOBI_LOG_FORMAT           logging.format
//	ID_TOKEN_SECRET            auth.id_token.secret
//	APP_CHECK_SECRET           auth.app_check.secret
//	ID_TOKEN_PUBLIC_KEY_FILE   auth.id_token.public_key_file
//	APP_CHECK_PUBLIC_KEY_FILE  auth.app_check.public_key_file
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  read_timeout: "15s"
//	mailer:
//	  timeout: "10s"
//
// # Defaults
//
// The admin token defaults to "changeme"; the gateway logs a warning at
// startup when it is still in use. App Check enforcement is on by default
// and requires auth.app_check key material.
package config
