// Package feed fetches and parses RSS/Atom feeds directly, bypassing
// the hub. Used by the fallback poller and the manual processing path.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tesso57/websubd/internal/application/usecase"
)

const feedAcceptHeader = "application/atom+xml, application/rss+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"

// maxFeedBytes caps how much of a feed body is read.
const maxFeedBytes = 10 << 20

type acceptTransport struct {
	base http.RoundTripper
}

func (t acceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	if clone.Header.Get("Accept") == "" {
		clone.Header.Set("Accept", feedAcceptHeader)
	}
	return base.RoundTrip(clone)
}

// Fetcher downloads and parses feeds over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher builds a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: acceptTransport{base: http.DefaultTransport},
		},
	}
}

// Fetch downloads and parses the feed at url, keeping the raw body so
// callers can replay it through the notification processing path.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*usecase.FeedInfo, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("feed url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}
	req.Header.Set("User-Agent", "websubd/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	parsed, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}

	return &usecase.FeedInfo{
		Title:     parsed.Title,
		BuildDate: buildDate(parsed),
		ItemCount: len(parsed.Items),
		Preview:   preview(parsed),
		Raw:       body,
	}, nil
}

// Parse parses a raw feed payload.
func Parse(body []byte) (*gofeed.Feed, error) {
	return gofeed.NewParser().Parse(bytes.NewReader(body))
}

// buildDate returns the freshest timestamp the feed exposes: the
// channel updated/published date, falling back to the newest item.
func buildDate(f *gofeed.Feed) time.Time {
	var t time.Time
	if f.UpdatedParsed != nil {
		t = *f.UpdatedParsed
	} else if f.PublishedParsed != nil {
		t = *f.PublishedParsed
	}
	for _, item := range f.Items {
		var it time.Time
		if item.PublishedParsed != nil {
			it = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			it = *item.UpdatedParsed
		}
		if it.After(t) {
			t = it
		}
	}
	return t
}

func preview(f *gofeed.Feed) string {
	if len(f.Items) == 0 {
		return f.Title
	}
	latest := f.Items[0]
	return fmt.Sprintf("%s / %s", f.Title, latest.Title)
}
