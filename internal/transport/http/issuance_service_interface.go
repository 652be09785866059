package http

import (
	"context"

	api "quantumlic/pkg/contracts/api/v1"
	"quantumlic/pkg/contracts/domain"
)

// IssuanceService is the part of the issuance core the HTTP layer consumes.
// The created flag distinguishes a fresh issuance from an idempotent replay.
type IssuanceService interface {
	Issue(ctx context.Context, req api.IssueRequest) (rec *domain.LicenseRecord, created bool, err error)
}
