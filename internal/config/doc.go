// Package config resolves configuration for the license-server and quantumd
// binaries from three layers: built-in defaults, an optional YAML file, and
// LONGQ_* environment variables, in that order of precedence. A handful of
// bare legacy names the desktop launcher exports (LONGQ_API_TOKEN,
// LONGQ_ALLOW_INSECURE, LONGQ_PUBLIC_KEY_HEX, LONGQ_PUBLIC_KEY_V2) are
// applied on top.
//
// Structured names follow LONGQ_<SECTION>_<FIELD>:
//
//	LONGQ_SERVER_PORT=8390
//	LONGQ_STORE_BACKEND=redis
//	LONGQ_STORE_REDIS_ADDR=localhost:6379
//	LONGQ_LICENSE_API_BASE=https://license-api.example.com
//	LONGQ_LICENSE_DISABLE=true
//	LONGQ_LOGGING_LEVEL=debug
//
// The package also owns per-OS path resolution for the trust-state files
// (license document, API token) via AppSupportDir and the Config path
// methods, so every component agrees on where those files live.
package config
