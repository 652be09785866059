package domain

import "time"

// TokenState is the full bearer-token lifecycle state owned by the token
// authority. Current is always set once the authority has booted; Previous
// and GraceDeadline exist only inside a rotation's grace window and are
// purged once the deadline passes.
type TokenState struct {
	Current       string
	Previous      string
	GraceDeadline time.Time
}

// InGrace reports whether a rotation grace window is open at the given
// instant.
func (s TokenState) InGrace(now time.Time) bool {
	return s.Previous != "" && now.Before(s.GraceDeadline)
}

// TokenFile is the on-disk persistence shape for the current token. Only the
// current token is persisted; grace state is process-local and a restart
// during a grace window simply forgets the old token.
type TokenFile struct {
	Token string `json:"token"`
}

// TokenFamily labels which half of the token state a presented credential
// matched (or failed to match), for diagnostics that must never include the
// token itself.
type TokenFamily string

const (
	TokenFamilyCurrent  TokenFamily = "current"
	TokenFamilyPrevious TokenFamily = "previous"
	TokenFamilyNone     TokenFamily = "none"
)
