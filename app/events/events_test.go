package events

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWriteFrame(t *testing.T) {
	next := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		event Event
		want  string
	}{
		{Start{TotalFeeds: 3}, `data: {"type":"start","total_feeds":3}` + "\n\n"},
		{FeedRefreshing{ID: 1, Title: "Go Blog"}, `data: {"type":"feed_refreshing","id":1,"title":"Go Blog"}` + "\n\n"},
		{
			FeedComplete{ID: 1, Title: "Go Blog", NewArticles: 2, NextFetchAt: &next},
			`data: {"type":"feed_complete","id":1,"title":"Go Blog","new_articles":2,"next_fetch_at":"2026-03-01T12:30:00Z"}` + "\n\n",
		},
		{FeedError{ID: 2, Title: "Broken", Error: "HTTP error: 503 Service Unavailable"},
			`data: {"type":"feed_error","id":2,"title":"Broken","error":"HTTP error: 503 Service Unavailable"}` + "\n\n"},
		{Complete{Stats: Stats{TotalFeeds: 2, Success: 2}},
			`data: {"type":"complete","stats":{"total_feeds":2,"success":2,"errors":0,"new_articles":0,"failed_feeds":[]}}` + "\n\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.EventType()), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tt.event); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, FeedError{ID: 5, Title: "Feed", Error: "timeout"})

	e, ok := DecodeFrame(buf.Bytes())
	if !ok {
		t.Fatal("Expected frame to decode")
	}
	fe, isErr := e.(FeedError)
	if !isErr || fe.ID != 5 || fe.Error != "timeout" {
		t.Errorf("Unexpected event: %#v", e)
	}

	buf.Reset()
	WriteFrame(&buf, Complete{Stats: Stats{TotalFeeds: 1, Errors: 1, FailedFeeds: []FailedFeed{{ID: 5, Title: "Feed", Error: "timeout"}}}})
	e, ok = DecodeFrame(buf.Bytes())
	if c, isComplete := e.(Complete); !ok || !isComplete || len(c.Stats.FailedFeeds) != 1 {
		t.Errorf("Unexpected event: %#v", e)
	}
}

func TestDecodeFrameIgnoresUnknown(t *testing.T) {
	frames := []string{
		`data: {"type":"feed_paused","id":1}`,
		": keepalive",
		"",
		`data: not json`,
		`event: ping`,
	}

	for _, f := range frames {
		if _, ok := DecodeFrame([]byte(f)); ok {
			t.Errorf("Expected frame %q to be skipped", f)
		}
	}
}

func TestWriteKeepalive(t *testing.T) {
	var sb strings.Builder
	WriteKeepalive(&sb)
	if sb.String() != ": keepalive\n\n" {
		t.Errorf("Unexpected keepalive %q", sb.String())
	}
}

func TestBroker(t *testing.T) {
	b := NewBroker()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	if b.Subscribers() != 2 {
		t.Errorf("Expected 2 subscribers, got %d", b.Subscribers())
	}

	b.Publish(Start{TotalFeeds: 1})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.EventType() != TypeStart {
				t.Errorf("Subscriber %d: expected start event, got %s", i, e.EventType())
			}
		default:
			t.Errorf("Subscriber %d: expected an event", i)
		}
	}

	unsub1()
	unsub1()

	if _, open := <-ch1; open {
		t.Error("Expected channel to be closed after unsubscribe")
	}
	if b.Subscribers() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", b.Subscribers())
	}

	b.Publish(Start{TotalFeeds: 2})
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for range 10 {
			b.Publish(Start{TotalFeeds: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Publish not to block")
	}

	if len(ch) != 1 {
		t.Errorf("Expected buffer to hold 1 event, got %d", len(ch))
	}
}
