package middleware

import "quantumlic/pkg/contracts/domain"

// LicenseStatusProvider is the part of the license manager the gate consumes.
// An interface keeps the middleware testable without a real verifier behind
// it.
type LicenseStatusProvider interface {
	Status() domain.LicenseStatus
}
