package feed

import (
	"bytes"
	"strings"
	"testing"
)

const sampleOPML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom" htmlUrl="https://go.dev/blog"/>
      <outline text="Duplicate" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
    </outline>
    <outline text="Standalone" title="Standalone Feed" type="rss" xmlUrl="https://example.com/rss"/>
    <outline text="Empty folder"/>
  </body>
</opml>`

func TestParseOPML(t *testing.T) {
	subs, err := ParseOPML(strings.NewReader(sampleOPML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(subs) != 2 {
		t.Fatalf("Expected 2 subscriptions, got %d", len(subs))
	}

	if subs[0].URL != "https://go.dev/blog/feed.atom" || subs[0].Category != "Tech" {
		t.Errorf("Expected Go Blog in Tech, got %+v", subs[0])
	}
	if subs[0].Title != "Go Blog" {
		t.Errorf("Expected title 'Go Blog', got '%s'", subs[0].Title)
	}
	if subs[1].Title != "Standalone Feed" || subs[1].Category != "" {
		t.Errorf("Expected uncategorized 'Standalone Feed', got %+v", subs[1])
	}
}

func TestParseOPMLMalformed(t *testing.T) {
	if _, err := ParseOPML(strings.NewReader("<opml><body>")); err == nil {
		t.Error("Expected error for malformed OPML")
	}
}

func TestWriteOPMLRoundTrip(t *testing.T) {
	subs := []Subscription{
		{URL: "https://go.dev/blog/feed.atom", Title: "Go Blog", Category: "Tech"},
		{URL: "https://example.com/rss", Title: "Example & Co"},
	}

	var buf bytes.Buffer
	if err := WriteOPML(&buf, "RSS Desk export", subs); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "<?xml") {
		t.Errorf("Expected XML header, got: %s", out[:20])
	}
	if !strings.Contains(out, "Example &amp; Co") {
		t.Errorf("Expected escaped title in output")
	}

	parsed, err := ParseOPML(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Expected exported OPML to parse, got: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("Expected 2 subscriptions, got %d", len(parsed))
	}
	if parsed[0].Category != "Tech" {
		t.Errorf("Expected category 'Tech', got '%s'", parsed[0].Category)
	}
}
