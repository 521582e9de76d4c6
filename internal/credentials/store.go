// Package credentials persists the bearer token and the external session
// artifact in a per-user directory, and watches that directory for a
// completed login handoff.
package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/pkg/models"
)

const (
	tokenFile   = "token.json"
	sessionFile = "session"
)

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Server    string             `json:"server,omitempty"`
	User      models.UserProfile `json:"user"`
}

// IsExpired returns true if the token has expired (with optional margin).
// A zero expiry never expires.
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// Store keeps credentials under one directory.
type Store struct {
	dir    string
	server string
	log    *zap.Logger

	mu sync.Mutex
}

// New creates a store rooted at dir. server is recorded in saved token files.
func New(dir, server string, log *zap.Logger) *Store {
	return &Store{dir: dir, server: server, log: logging.OrGlobal(log).Named("credentials")}
}

// Dir returns the credentials directory.
func (s *Store) Dir() string {
	return s.dir
}

// TokenPath returns the path of the token file.
func (s *Store) TokenPath() string {
	return filepath.Join(s.dir, tokenFile)
}

// SessionPath returns the path of the session artifact file.
func (s *Store) SessionPath() string {
	return filepath.Join(s.dir, sessionFile)
}

// LoadToken loads the token file. A missing file yields (nil, nil).
func (s *Store) LoadToken() (*TokenFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.TokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read token file")
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, errors.Wrap(err, "parse token file")
	}
	return &tf, nil
}

// Token returns the stored bearer token, or "" when none is stored, the file
// is unreadable or the token has expired.
func (s *Store) Token() string {
	tf, err := s.LoadToken()
	if err != nil {
		s.log.Warn("ignoring unreadable token file", zap.Error(err))
		return ""
	}
	if tf == nil || tf.IsExpired(0) {
		return ""
	}
	return tf.Token
}

// SaveToken persists a token for user.
func (s *Store) SaveToken(token string, user models.UserProfile, expiresAt time.Time) error {
	data, err := json.MarshalIndent(&TokenFile{
		Token:     token,
		ExpiresAt: expiresAt,
		Server:    s.server,
		User:      user,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode token file")
	}
	return s.write(tokenFile, data)
}

// ClearToken removes the stored token.
func (s *Store) ClearToken() error {
	return s.remove(tokenFile)
}

// SessionCookie returns the stored external session artifact, or "".
func (s *Store) SessionCookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.SessionPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveSessionCookie persists the artifact a login handoff produced.
func (s *Store) SaveSessionCookie(artifact string) error {
	return s.write(sessionFile, []byte(artifact+"\n"))
}

// ClearSession removes the session artifact.
func (s *Store) ClearSession() error {
	return s.remove(sessionFile)
}

// write replaces name atomically (temp file then rename).
func (s *Store) write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replace %s", name)
	}
	return nil
}

func (s *Store) remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove %s", name)
	}
	return nil
}
