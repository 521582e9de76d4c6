package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/docnav/pkg/models"
)

// DefaultSessionTTL bounds how long a login artifact can wait for exchange.
const DefaultSessionTTL = 5 * time.Minute

type pendingLogin struct {
	user    models.UserProfile
	expires time.Time
}

// SessionStore holds single-use login artifacts.
type SessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]pendingLogin
	now     func() time.Time
}

// NewSessionStore creates a store whose artifacts expire after ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{ttl: ttl, pending: make(map[string]pendingLogin), now: time.Now}
}

// Issue creates an artifact for user.
func (s *SessionStore) Issue(user models.UserProfile) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, p := range s.pending {
		if now.After(p.expires) {
			delete(s.pending, k)
		}
	}
	artifact := uuid.NewString()
	s.pending[artifact] = pendingLogin{user: user, expires: now.Add(s.ttl)}
	return artifact
}

// Consume redeems an artifact once.
func (s *SessionStore) Consume(artifact string) (models.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[artifact]
	if !ok {
		return models.UserProfile{}, false
	}
	delete(s.pending, artifact)
	if s.now().After(p.expires) {
		return models.UserProfile{}, false
	}
	return p.user, true
}

// Len counts artifacts waiting for exchange.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ProfileFor derives a stable profile from a username.
func ProfileFor(username string) models.UserProfile {
	return models.UserProfile{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(username)).String(),
		Username:    username,
		DisplayName: username,
	}
}
