// Package http holds the HTTP handlers shared by the issuance service and
// the client daemon: request decoding, response rendering and nothing else.
// Issuance, offline verification and the token authority live in their own
// packages; handlers translate between those domain types and the wire
// contract in pkg/contracts/api/v1.
//
// The issuance service mounts POST /issue. The daemon mounts the local API:
// /api/license (status, activate, refresh, debug), /api/auth/token (rotate,
// renew, status), /api/version and the WebSocket upgrade. Both binaries
// expose /healthz, /healthz/ready and /metrics outside the authenticated and
// rate-limited groups so probes and scrapes never need credentials.
//
// Handlers surface failures exclusively as *errors.APIError rendered to the
// flat body shared with client builds:
//
//	{"error": "seat_limit_exceeded", "message": "All seats for this identity are in use"}
//
// with the HTTP status carrying the severity. Errors without an explicit
// mapping collapse to 500 internal_error so internals never leak onto the
// wire.
//
// Tests drive every handler through httptest against stub services; the
// *_test.go files pin each endpoint's contract.
package http
