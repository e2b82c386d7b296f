// Package hub sends WebSub intent requests to third-party hubs.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tesso57/websubd/internal/domain/websub"
)

// Client POSTs form-encoded subscribe/unsubscribe requests. Hubs are
// third parties that may be slow; every request is bounded by the
// client timeout.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a hub client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Subscribe asks hubURL to start pushing req.Topic to req.Callback.
// Verification is requested async; the hub answers the actual intent
// check via a later GET to the callback.
func (c *Client) Subscribe(ctx context.Context, hubURL string, req websub.SubscribeRequest) error {
	req.Mode = websub.ModeSubscribe
	return c.send(ctx, hubURL, req)
}

// Unsubscribe asks hubURL to stop pushing req.Topic.
func (c *Client) Unsubscribe(ctx context.Context, hubURL string, req websub.SubscribeRequest) error {
	req.Mode = websub.ModeUnsubscribe
	req.Secret = ""
	req.LeaseSeconds = 0
	return c.send(ctx, hubURL, req)
}

func (c *Client) send(ctx context.Context, hubURL string, sr websub.SubscribeRequest) error {
	form := url.Values{
		"hub.mode":     {sr.Mode},
		"hub.topic":    {sr.Topic},
		"hub.callback": {sr.Callback},
		"hub.verify":   {"async"},
	}
	if sr.Secret != "" {
		form.Set("hub.secret", sr.Secret)
	}
	if sr.LeaseSeconds > 0 {
		form.Set("hub.lease_seconds", strconv.Itoa(sr.LeaseSeconds))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", sr.Mode, hubURL, err)
	}
	defer func() {
		// Drain response body to enable HTTP keep-alive connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	// Hubs usually answer 202 Accepted; anything 2xx counts.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hub %s answered %s with status %d", hubURL, sr.Mode, resp.StatusCode)
	}
	return nil
}
