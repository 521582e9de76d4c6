package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

// SessionCookieName is the cookie the login service sets on a successful handoff.
const SessionCookieName = "docnav_session"

// ExchangeSession trades an external session artifact for a bearer token.
// The token is not applied; callers decide when to switch identity.
func (c *Client) ExchangeSession(ctx context.Context, artifact string) (*protocol.TokenResponse, error) {
	var resp protocol.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/exchange", protocol.SessionExchangeRequest{Session: artifact}, &resp); err != nil {
		return nil, errors.Wrap(err, "exchange session")
	}
	if resp.Token == "" {
		return nil, errors.New("exchange session: empty token")
	}
	return &resp, nil
}

// Profile returns the user owning the current token. A rejected token yields
// an error matching ErrUnauthorized.
func (c *Client) Profile(ctx context.Context) (*models.UserProfile, error) {
	var resp protocol.ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// LoginHandoff submits credentials to the external login endpoint the way a
// browser form would, and returns the session artifact the service sets as a
// cookie. The redirect to returnURL is not followed.
func (c *Client) LoginHandoff(ctx context.Context, loginURL, returnURL, username, code string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("code", code)
	form.Set("return_url", returnURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "login handoff")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeError(resp)
	}

	u, err := url.Parse(loginURL)
	if err != nil {
		return "", errors.Wrap(err, "parse login url")
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == SessionCookieName && ck.Value != "" {
			c.log.Info("login handoff completed", zap.String("user", username))
			return ck.Value, nil
		}
	}
	return "", errors.New("login handoff: no session cookie issued")
}
