package config

// EnvPrefix namespaces every structured environment variable, giving names
// like LONGQ_SERVER_PORT and LONGQ_LICENSE_API_BASE.
const EnvPrefix = "LONGQ"

// Application identity. Vendor and app name shape the per-OS app-support
// directory, so changing them orphans existing license and token files.
const (
	DefaultVendor  = "LongQ"
	DefaultAppName = "QuantumQi"

	// DefaultProduct is the product code stamped on licenses and checked
	// by the verifier.
	DefaultProduct = "quantum_qi"
)

// DefaultIssuanceURL is the production issuance service the activation
// client talks to when config does not override it.
const DefaultIssuanceURL = "https://license-api.hello-326.workers.dev"

// KV backends for StoreConfig.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
