package tokenauth

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quantumlic/internal/files"
	"quantumlic/pkg/contracts/domain"
)

// DefaultRenewGraceSeconds is the grace window applied when a renew request
// does not specify one.
const DefaultRenewGraceSeconds = 60.0

// snapshot is the immutable state observed by Authenticate. An expired
// previous token may linger in a snapshot until the next mutation; it never
// authenticates past the deadline, it only improves 401 diagnostics.
type snapshot struct {
	current  Secret
	previous Secret
	deadline time.Time
}

func (s *snapshot) inGrace(now time.Time) bool {
	return !s.previous.IsZero() && now.Before(s.deadline)
}

// Status is the diagnostic view of the authority, safe to serialize.
type Status struct {
	TokenPrefix           string  `json:"token_prefix"`
	InGrace               bool    `json:"in_grace"`
	GraceRemainingSeconds float64 `json:"grace_remaining_seconds"`
	Persisted             bool    `json:"persisted"`
	Path                  string  `json:"path"`
}

// Store owns the bearer-token lifecycle: Stable(current) moves through
// Grace(current, previous, deadline) on every rotation and back to Stable
// once the deadline passes. Mutations are serialized by a single mutex, so
// two overlapping rotations can never install inconsistent grace windows;
// Authenticate reads an atomic snapshot and never blocks on a rotation.
type Store struct {
	path   string
	logger *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	persisted bool
	state     atomic.Pointer[snapshot]
}

// NewStore creates an empty authority persisting to path. Call Load before
// serving requests.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "token_authority")),
		now:    time.Now,
	}
	s.state.Store(&snapshot{})
	return s
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}

// Load initializes the current token: from the persisted file first, then
// from the supplied environment token, and finally by generating a fresh one.
// The resolved token is persisted best-effort; a read-only disk leaves the
// authority running on the in-memory token.
func (s *Store) Load(ctx context.Context, envToken Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, persisted := s.readTokenFile(ctx)
	if token.IsZero() && !envToken.IsZero() {
		token = NewSecret(strings.TrimSpace(envToken.Reveal()))
		s.logger.InfoContext(ctx, "token loaded from environment", slog.Any("token", token))
	}
	if token.IsZero() {
		generated, err := Generate()
		if err != nil {
			return err
		}
		token = generated
		s.logger.InfoContext(ctx, "generated first-boot token", slog.Any("token", token))
	}

	if !persisted {
		persisted = s.persistLocked(ctx, token)
	}
	s.persisted = persisted
	s.state.Store(&snapshot{current: token})
	return nil
}

func (s *Store) readTokenFile(ctx context.Context) (Secret, bool) {
	var file domain.TokenFile
	err := files.ReadJSON(s.path, &file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Secret{}, false
	case err != nil:
		s.logger.WarnContext(ctx, "token file unreadable, ignoring",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return Secret{}, false
	}
	token := strings.TrimSpace(file.Token)
	if token == "" {
		return Secret{}, false
	}
	return NewSecret(token), true
}

// persistLocked writes the current token file. Returns whether the disk copy
// is now authoritative. Callers hold s.mu.
func (s *Store) persistLocked(ctx context.Context, token Secret) bool {
	err := files.WriteJSONAtomic(s.path, domain.TokenFile{Token: token.Reveal()}, 0o600)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist token file",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Current returns the active token.
func (s *Store) Current() Secret {
	return s.state.Load().current
}

// Authenticate checks a presented token. The returned family reports what the
// candidate matched: current, previous (including an expired previous, which
// still fails), or none.
func (s *Store) Authenticate(candidate string) (bool, domain.TokenFamily) {
	if candidate == "" {
		return false, domain.TokenFamilyNone
	}
	st := s.state.Load()
	if st.current.Equal(candidate) {
		return true, domain.TokenFamilyCurrent
	}
	if st.previous.Equal(candidate) {
		return st.inGrace(s.now()), domain.TokenFamilyPrevious
	}
	return false, domain.TokenFamilyNone
}

// Rotate installs newToken as the current token. A zero newToken generates
// one. The old token stays valid for graceSeconds (clamped at zero); with no
// grace it dies immediately. With persist set, the new token is written to
// disk before the rotation commits, so a crash right after Rotate returns
// never loses it.
func (s *Store) Rotate(ctx context.Context, newToken Secret, graceSeconds float64, persist bool) (Secret, error) {
	token := newToken
	if token.IsZero() {
		generated, err := Generate()
		if err != nil {
			return Secret{}, err
		}
		token = generated
	}
	grace := time.Duration(max(0, graceSeconds) * float64(time.Second))

	s.mu.Lock()
	defer s.mu.Unlock()

	if persist {
		if !s.persistLocked(ctx, token) {
			return Secret{}, errors.New("token rotation aborted: persistence failed")
		}
		s.persisted = true
	}

	old := s.state.Load().current
	next := &snapshot{current: token}
	if !old.IsZero() && grace > 0 {
		next.previous = old
		next.deadline = s.now().Add(grace)
	}
	s.state.Store(next)

	s.logger.InfoContext(ctx, "token rotated",
		slog.String("token_prefix", token.Prefix()),
		slog.Float64("grace_seconds", max(0, graceSeconds)),
		slog.Bool("persisted", persist))
	return token, nil
}

// Renew rotates to a freshly generated token and persists it. graceSeconds
// at or below zero applies the default renewal grace window.
func (s *Store) Renew(ctx context.Context, graceSeconds float64) (Secret, error) {
	if graceSeconds <= 0 {
		graceSeconds = DefaultRenewGraceSeconds
	}
	return s.Rotate(ctx, Secret{}, graceSeconds, true)
}

// Status reports the diagnostic view used by the status endpoint and logs.
func (s *Store) Status() Status {
	st := s.state.Load()
	now := s.now()

	s.mu.Lock()
	persisted := s.persisted
	s.mu.Unlock()

	status := Status{
		TokenPrefix: st.current.Prefix(),
		Persisted:   persisted,
		Path:        s.path,
	}
	if st.inGrace(now) {
		status.InGrace = true
		status.GraceRemainingSeconds = st.deadline.Sub(now).Seconds()
	}
	return status
}
