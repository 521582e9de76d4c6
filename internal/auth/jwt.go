// Package auth issues and verifies bearer tokens and stands in for the
// external login service during development.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

type contextKey string

const (
	userContextKey contextKey = "user"
	issuer                    = "docnav"
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Claims holds JWT token claims.
type Claims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Profile converts the claims to the public user profile.
func (c *Claims) Profile() models.UserProfile {
	return models.UserProfile{
		ID:          c.UserID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		IsAdmin:     c.IsAdmin,
	}
}

// Options configures Auth.
type Options struct {
	Secret   string
	TokenTTL time.Duration
	// AppURL bounds login return URLs to the app's origin.
	AppURL string
	// DevLoginUser, when set, makes GET /login sign in without a form.
	DevLoginUser string
	Logger       *zap.Logger
}

// Auth handles JWT authentication.
type Auth struct {
	secret   []byte
	ttl      time.Duration
	appURL   string
	devUser  string
	sessions *SessionStore
	log      *zap.Logger
	now      func() time.Time
}

// New creates a new Auth handler.
func New(opts Options) *Auth {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	return &Auth{
		secret:   []byte(opts.Secret),
		ttl:      opts.TokenTTL,
		appURL:   strings.TrimSuffix(opts.AppURL, "/"),
		devUser:  strings.TrimSpace(opts.DevLoginUser),
		sessions: NewSessionStore(DefaultSessionTTL),
		log:      logging.OrGlobal(opts.Logger).Named("auth"),
		now:      time.Now,
	}
}

// Sessions returns the pending login artifacts.
func (a *Auth) Sessions() *SessionStore {
	return a.sessions
}

// Middleware validates a bearer token when one is presented. Anonymous
// requests pass through without claims; an invalid token is rejected.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.validateToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Require rejects requests without valid claims.
func Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			sendAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// WithClaims stores claims in a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// IssueToken signs a token for user.
func (a *Auth) IssueToken(user models.UserProfile) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		IsAdmin:     user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return tokenStr, expires, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// HandleExchange handles POST /api/v1/auth/exchange: a login artifact is
// traded once for a bearer token.
func (a *Auth) HandleExchange(w http.ResponseWriter, r *http.Request) {
	var req protocol.SessionExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Session) == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "session is required")
		return
	}

	user, ok := a.sessions.Consume(req.Session)
	if !ok {
		metrics.RecordAuthAttempt(false)
		a.log.Warn("session exchange rejected")
		sendAuthError(w, http.StatusUnauthorized, "unknown or expired session")
		return
	}

	tokenStr, expires, err := a.IssueToken(user)
	if err != nil {
		a.log.Error("issue token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	metrics.RecordAuthAttempt(true)
	a.log.Info("session exchanged", zap.String("user", user.Username))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.TokenResponse{
		Token:     tokenStr,
		ExpiresAt: expires.Unix(),
		User:      user,
	})
}

// HandleProfile handles GET /api/v1/auth/profile.
func (a *Auth) HandleProfile(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		sendAuthError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.ProfileResponse{User: claims.Profile()})
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	// Query parameter fallback
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
