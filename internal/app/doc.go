// Package app assembles the two server binaries and manages their
// lifecycles.
//
// Application is the quantumd daemon: the local trust surface the desktop
// app talks to. It wires the bearer-token authority, the offline license
// verifier with its background revalidation, the WebSocket status hub and
// the authenticated HTTP API into one process.
//
// Issuer is the license-server: the issuance service around POST /issue,
// with its KV backend and decrypted signing key.
//
// # Initialization Flow
//
// Both constructors follow the same sequence:
//
//	1. Load configuration from defaults, YAML file and environment
//	2. Initialize structured logging and OpenTelemetry
//	3. Wire the domain services with their stores and metrics
//	4. Set up the chi router and middleware chain
//	5. Configure the HTTP server
//
// Run then blocks until SIGINT or SIGTERM and shuts down gracefully:
// the listener drains first, background loops stop next, telemetry
// flushes last.
//
// All initialization errors are returned to the caller; the package never
// calls os.Exit, leaving exit control to main.
package app
