package client

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/pkg/protocol"
)

// SSEClient follows the server's event stream, reconnecting with backoff.
type SSEClient struct {
	api          *Client
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// NewSSEClient creates an event stream client sharing api's base URL and token.
func NewSSEClient(api *Client) *SSEClient {
	return &SSEClient{
		api: api,
		httpClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Subscribe connects to the SSE endpoint and returns a channel of events.
// Both channels are closed when ctx is done.
func (c *SSEClient) Subscribe(ctx context.Context) (<-chan protocol.Event, <-chan error) {
	events := make(chan protocol.Event, 100)
	errs := make(chan error, 1)

	go c.subscribeLoop(ctx, events, errs)

	return events, errs
}

func (c *SSEClient) subscribeLoop(ctx context.Context, events chan<- protocol.Event, errs chan<- error) {
	defer close(events)
	defer close(errs)

	reconnectDelay := c.reconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connect(ctx, events)
		if ctx.Err() != nil {
			return
		}

		select {
		case errs <- err:
		default:
		}
		c.api.log.Warn("event stream interrupted",
			zap.Error(err), zap.Duration("reconnect_in", reconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > c.reconnectMax {
			reconnectDelay = c.reconnectMax
		}
	}
}

func (c *SSEClient) connect(ctx context.Context, events chan<- protocol.Event) error {
	url := c.api.BaseURL() + "/api/v1/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.api.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("server returned %d", resp.StatusCode)
	}

	c.api.log.Debug("event stream connected", zap.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				var event protocol.Event
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					c.api.log.Debug("malformed event", zap.Error(err))
				} else {
					if event.Type == "" {
						event.Type = eventType
					}
					select {
					case events <- event:
					case <-ctx.Done():
						return nil
					}
				}
			}
			eventType, data = "", ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read")
	}
	return errors.New("connection closed")
}
