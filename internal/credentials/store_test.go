package credentials

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/docnav/pkg/models"
)

func TestTokenRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "http://api", nil)
	assert.Empty(t, s.Token())

	user := models.UserProfile{ID: "1", Username: "alice"}
	require.NoError(t, s.SaveToken("jwt", user, time.Now().Add(time.Hour)))
	assert.Equal(t, "jwt", s.Token())

	tf, err := s.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "alice", tf.User.Username)
	assert.Equal(t, "http://api", tf.Server)

	info, err := os.Stat(s.TokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.ClearToken())
	assert.Empty(t, s.Token())
	require.NoError(t, s.ClearToken(), "clearing twice is fine")
}

func TestExpiredTokenIsIgnored(t *testing.T) {
	s := New(t.TempDir(), "", nil)
	require.NoError(t, s.SaveToken("old", models.UserProfile{}, time.Now().Add(-time.Minute)))
	assert.Empty(t, s.Token())
}

func TestCorruptTokenIsIgnored(t *testing.T) {
	s := New(t.TempDir(), "", nil)
	require.NoError(t, os.WriteFile(s.TokenPath(), []byte("{not json"), 0o600))
	assert.Empty(t, s.Token())
}

func TestSessionCookie(t *testing.T) {
	s := New(t.TempDir(), "", nil)
	assert.Empty(t, s.SessionCookie())

	require.NoError(t, s.SaveSessionCookie("artifact"))
	assert.Equal(t, "artifact", s.SessionCookie())

	require.NoError(t, s.ClearSession())
	assert.Empty(t, s.SessionCookie())
}

func TestWatchSession(t *testing.T) {
	s := New(t.TempDir(), "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.WatchSession(ctx, func(a string) { got <- a })
	}()

	// The watcher needs to be registered before the write; retry until seen.
	deadline := time.After(4 * time.Second)
	for {
		require.NoError(t, s.SaveSessionCookie("handoff"))
		select {
		case a := <-got:
			assert.Equal(t, "handoff", a)
			cancel()
			require.NoError(t, <-done)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("session write not observed")
		}
	}
}
