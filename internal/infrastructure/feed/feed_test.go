package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const atomDoc = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Feed</title>
  <id>urn:uuid:60a76c80-d399-11d9-b93C-0003939e0af6</id>
  <updated>2026-01-02T00:00:00Z</updated>
  <entry>
    <title>Atom-Powered Robots Run Amok</title>
    <id>urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a</id>
    <updated>2026-01-02T00:00:00Z</updated>
    <link href="https://example.com/robots"/>
    <summary>Some text.</summary>
  </entry>
</feed>`

func TestFetchParsesFeed(t *testing.T) {
	var gotAccept, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(atomDoc))
	}))
	defer server.Close()

	f := NewFetcher(5 * time.Second)
	info, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if info.Title != "Example Feed" {
		t.Errorf("Title = %q, want %q", info.Title, "Example Feed")
	}
	if info.ItemCount != 1 {
		t.Errorf("ItemCount = %d, want 1", info.ItemCount)
	}
	want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !info.BuildDate.Equal(want) {
		t.Errorf("BuildDate = %v, want %v", info.BuildDate, want)
	}
	if string(info.Raw) != atomDoc {
		t.Error("Raw must hold the exact response body")
	}
	if info.Preview == "" {
		t.Error("expected a non-empty preview")
	}

	if gotAccept == "" {
		t.Error("expected feed Accept header to be set")
	}
	if gotUA != "websubd/1.0" {
		t.Errorf("User-Agent = %q, want websubd/1.0", gotUA)
	}
}

func TestParseRSSBuildDateFallsBackToItems(t *testing.T) {
	rssDoc := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Podcast</title>
  <item><title>Ep 2</title><pubDate>Fri, 02 Jan 2026 00:00:00 GMT</pubDate></item>
  <item><title>Ep 1</title><pubDate>Thu, 01 Jan 2026 00:00:00 GMT</pubDate></item>
</channel></rss>`

	parsed, err := Parse([]byte(rssDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got := buildDate(parsed)
	want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("buildDate = %v, want %v", got, want)
	}
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	f := NewFetcher(time.Second)
	if _, err := f.Fetch(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestFetchNon200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	f := NewFetcher(time.Second)
	if _, err := f.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 410 response")
	}
}

func TestFetchBadPayloadIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a feed"))
	}))
	defer server.Close()

	f := NewFetcher(time.Second)
	if _, err := f.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for unparsable body")
	}
}
