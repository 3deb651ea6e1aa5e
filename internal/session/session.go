package session

import (
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrEmptyToken is returned by SignIn when no token is supplied.
var ErrEmptyToken = errors.New("session: empty token")

// Identity describes the logged-in user as derived from the bearer token.
type Identity struct {
	UserID string
	Roles  []string
}

// Supplier holds the current bearer token and identity and notifies
// registered watchers when the identity becomes available or is cleared.
// It performs no authentication itself; the token is issued and verified
// by the backend.
type Supplier struct {
	mu       sync.Mutex
	token    string
	identity *Identity
	watchers map[int]func(*Identity)
	nextID   int
	log      zerolog.Logger
}

// NewSupplier creates an empty session supplier.
func NewSupplier(log zerolog.Logger) *Supplier {
	return &Supplier{
		watchers: make(map[int]func(*Identity)),
		log:      log.With().Str("component", "session").Logger(),
	}
}

// SignIn stores the bearer token, derives the identity from its claims,
// and notifies watchers. The token signature is not verified here: only
// the backend holds the signing key, and the claims are used purely for
// display and stream binding.
func (s *Supplier) SignIn(token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	id := identityFromToken(token)
	if id.UserID == "" {
		s.log.Warn().Msg("token carries no recognizable user claim")
	}

	s.mu.Lock()
	s.token = token
	s.identity = &id
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	s.log.Info().Str("user_id", id.UserID).Msg("identity acquired")
	for _, fn := range watchers {
		fn(&id)
	}
	return nil
}

// SignOut clears the token and identity and notifies watchers with nil.
func (s *Supplier) SignOut() {
	s.mu.Lock()
	if s.identity == nil && s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.identity = nil
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	s.log.Info().Msg("identity cleared")
	for _, fn := range watchers {
		fn(nil)
	}
}

// Token returns the current bearer token, or "" when signed out.
func (s *Supplier) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Identity returns the current identity, or nil when signed out.
func (s *Supplier) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Watch registers fn to be called with the new identity on sign-in and
// with nil on sign-out. It returns an unsubscribe func.
func (s *Supplier) Watch(fn func(*Identity)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// snapshotWatchers copies the watcher set so callbacks run outside the
// lock. Callers must hold s.mu.
func (s *Supplier) snapshotWatchers() []func(*Identity) {
	out := make([]func(*Identity), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

// identityFromToken parses the JWT claims without verifying the
// signature and extracts the user id and roles. A token that is not a
// JWT yields an empty identity rather than an error.
func identityFromToken(token string) Identity {
	var id Identity

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return id
	}

	if v, ok := claims["user_id"].(string); ok && v != "" {
		id.UserID = v
	} else if v, ok := claims["sub"].(string); ok {
		id.UserID = v
	}

	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				id.Roles = append(id.Roles, role)
			}
		}
	}

	return id
}
