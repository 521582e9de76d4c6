package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/pkg/client"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

const testApp = "https://docs.example.com"

func newTestAuth(devUser string) *Auth {
	return New(Options{Secret: "test-secret", AppURL: testApp, DevLoginUser: devUser, Logger: zap.NewNop()})
}

func protected(a *Auth) http.Handler {
	return a.Middleware(http.HandlerFunc(Require(a.HandleProfile)))
}

func TestIssueAndValidate(t *testing.T) {
	a := newTestAuth("")
	tok, expires, err := a.IssueToken(ProfileFor("alice"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), expires, time.Minute)

	claims, err := a.validateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, ProfileFor("alice").ID, claims.Profile().ID)

	other := New(Options{Secret: "other"})
	_, err = other.validateToken(tok)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	a := newTestAuth("")
	a.now = func() time.Time { return time.Now().Add(-2 * DefaultTokenTTL) }
	tok, _, err := a.IssueToken(ProfileFor("alice"))
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.validateToken(tok)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth("")
	tok, _, err := a.IssueToken(ProfileFor("bob"))
	require.NoError(t, err)

	var seen *Claims
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen, "anonymous requests pass without claims")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotNil(t, seen)
	assert.Equal(t, "bob", seen.Username)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	seen = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events?token="+tok, nil))
	require.NotNil(t, seen, "query token accepted for event streams")
}

func TestProfileRequiresAuth(t *testing.T) {
	a := newTestAuth("")
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusUnauthorized, body.Code)
}

func TestLoginExchangeProfile(t *testing.T) {
	a := newTestAuth("")

	form := url.Values{"username": {"carol"}, "code": {"123456"}, "return_url": {testApp + "/onboarding.md"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.HandleLoginSubmit(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, testApp+"/onboarding.md", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, client.SessionCookieName, cookies[0].Name)
	artifact := cookies[0].Value

	body, _ := json.Marshal(protocol.SessionExchangeRequest{Session: artifact})
	rec = httptest.NewRecorder()
	a.HandleExchange(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/exchange", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)
	var tokResp protocol.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokResp))
	assert.Equal(t, "carol", tokResp.User.Username)
	assert.NotZero(t, tokResp.ExpiresAt)

	rec = httptest.NewRecorder()
	a.HandleExchange(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/exchange", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "artifacts are single use")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+tokResp.Token)
	rec = httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var prof protocol.ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prof))
	assert.Equal(t, "carol", prof.User.Username)
}

func TestLoginSubmitValidation(t *testing.T) {
	a := newTestAuth("")
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("username=dave"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.HandleLoginSubmit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, a.Sessions().Len())
}

func TestLoginPage(t *testing.T) {
	a := newTestAuth("")
	rec := httptest.NewRecorder()
	a.HandleLoginPage(rec, httptest.NewRequest(http.MethodGet, "/login?return_url=%2Fguides", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="https://docs.example.com/guides"`)

	dev := newTestAuth("demo")
	rec = httptest.NewRecorder()
	dev.HandleLoginPage(rec, httptest.NewRequest(http.MethodGet, "/login?return_url=%2Fguides", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, testApp+"/guides", rec.Header().Get("Location"))
	assert.Equal(t, 1, dev.Sessions().Len())
}

func TestSafeReturnURL(t *testing.T) {
	a := newTestAuth("")
	tests := []struct{ in, want string }{
		{in: "", want: testApp + "/"},
		{in: "/onboarding.md", want: testApp + "/onboarding.md"},
		{in: testApp + "/a%20b", want: testApp + "/a%20b"},
		{in: "https://evil.example.net/steal", want: testApp + "/"},
		{in: "//evil.example.net/x", want: testApp + "/"},
		{in: "relative", want: testApp + "/"},
		{in: "http://docs.example.com/downgraded", want: testApp + "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.safeReturnURL(tt.in), tt.in)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	s := NewSessionStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	artifact := s.Issue(ProfileFor("erin"))
	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := s.Consume(artifact)
	assert.False(t, ok)

	fresh := s.Issue(ProfileFor("erin"))
	assert.Equal(t, 1, s.Len(), "expired artifacts are pruned on issue")
	u, ok := s.Consume(fresh)
	assert.True(t, ok)
	assert.Equal(t, "erin", u.Username)
}
