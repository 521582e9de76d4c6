// Package client provides the HTTP client for the docnav backing API, with
// retries, a session cookie jar and bearer-token auth.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

// Client talks to the backing API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	jar        http.CookieJar
	log        *zap.Logger
	trees      singleflight.Group

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	AuthToken    string
	Logger       *zap.Logger
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 10 * time.Second
	}
	log := logging.OrGlobal(cfg.Logger).Named("client")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = &retryLogger{s: log.Sugar()}
	// Hand the final response back so status codes map to APIError.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// Redirects surface to the caller; the login handoff reads its cookie
	// from the redirect response.
	retryClient.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	// cookiejar.New never returns an error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	httpClient := retryClient.StandardClient()
	httpClient.Timeout = cfg.Timeout
	httpClient.Jar = jar
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		jar:        jar,
		log:        log,
		online:     true,
		authToken:  cfg.AuthToken,
	}
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthToken sets the bearer token for requests. An empty token makes
// requests anonymous.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// AuthToken returns the current bearer token.
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	if token := c.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// IsOnline returns true if the server was reachable on the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.log.Info("server is back online", zap.String("url", c.baseURL))
		} else {
			c.log.Warn("server is offline", zap.String("url", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// LastPing returns when the reachability of the server was last observed,
// or the zero time before the first request.
func (c *Client) LastPing() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// FetchTree fetches the whole hierarchy. With publicOnly the server returns
// the public projection. Concurrent calls with the same scope and token share
// one request.
func (c *Client) FetchTree(ctx context.Context, publicOnly bool) (*models.Node, error) {
	path := "/api/v1/tree"
	if publicOnly {
		path += "?access=0"
	}
	key := path + "|" + c.AuthToken()

	v, err, _ := c.trees.Do(key, func() (interface{}, error) {
		return c.fetchTree(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Node), nil
}

func (c *Client) fetchTree(ctx context.Context, path string) (*models.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return nil, errors.Wrap(err, "fetch tree")
	}
	defer resp.Body.Close()
	c.setOnline(resp.StatusCode < http.StatusInternalServerError)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "gzip tree body")
		}
		defer gr.Close()
		reader = gr
	}

	var treeResp protocol.TreeResponse
	if err := json.NewDecoder(reader).Decode(&treeResp); err != nil {
		return nil, errors.Wrap(err, "decode tree")
	}
	if treeResp.Root == nil {
		return nil, errors.New("decode tree: response has no root")
	}
	return treeResp.Root, nil
}

// Search runs the server-side relevance search.
func (c *Client) Search(ctx context.Context, query string) ([]*models.Node, error) {
	var resp protocol.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/search?q="+url.QueryEscape(query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", method, path)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errors.WithStack(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	c.setOnline(resp.StatusCode < http.StatusInternalServerError)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
