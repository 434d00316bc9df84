// Package events defines the refresh progress events and their text/event-stream
// encoding.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type Type string

const (
	TypeStart          Type = "start"
	TypeFeedRefreshing Type = "feed_refreshing"
	TypeFeedComplete   Type = "feed_complete"
	TypeFeedError      Type = "feed_error"
	TypeComplete       Type = "complete"
)

type Event interface {
	EventType() Type
}

type Start struct {
	TotalFeeds int `json:"total_feeds"`
}

type FeedRefreshing struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type FeedComplete struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	NewArticles int        `json:"new_articles"`
	NextFetchAt *time.Time `json:"next_fetch_at"`
}

type FeedError struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Error string `json:"error"`
}

type Complete struct {
	Stats Stats `json:"stats"`
}

type Stats struct {
	TotalFeeds  int          `json:"total_feeds"`
	Success     int          `json:"success"`
	Errors      int          `json:"errors"`
	NewArticles int          `json:"new_articles"`
	Cancelled   bool         `json:"cancelled,omitempty"`
	FailedFeeds []FailedFeed `json:"failed_feeds"`
}

type FailedFeed struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Error string `json:"error"`
}

func (Start) EventType() Type          { return TypeStart }
func (FeedRefreshing) EventType() Type { return TypeFeedRefreshing }
func (FeedComplete) EventType() Type   { return TypeFeedComplete }
func (FeedError) EventType() Type      { return TypeFeedError }
func (Complete) EventType() Type       { return TypeComplete }

func (e Start) MarshalJSON() ([]byte, error) {
	type payload Start
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{TypeStart, payload(e)})
}

func (e FeedRefreshing) MarshalJSON() ([]byte, error) {
	type payload FeedRefreshing
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{TypeFeedRefreshing, payload(e)})
}

func (e FeedComplete) MarshalJSON() ([]byte, error) {
	type payload FeedComplete
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{TypeFeedComplete, payload(e)})
}

func (e FeedError) MarshalJSON() ([]byte, error) {
	type payload FeedError
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{TypeFeedError, payload(e)})
}

func (e Complete) MarshalJSON() ([]byte, error) {
	type payload Complete
	if e.Stats.FailedFeeds == nil {
		e.Stats.FailedFeeds = []FailedFeed{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{TypeComplete, payload(e)})
}

// WriteFrame writes e as a single "data:" frame.
func WriteFrame(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.EventType(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	_, err = w.Write(buf.Bytes())
	return err
}

func WriteKeepalive(w io.Writer) error {
	_, err := io.WriteString(w, ": keepalive\n\n")
	return err
}

// DecodeFrame parses one frame. Comments, blank frames and unknown event
// types report ok=false so consumers can skip them.
func DecodeFrame(frame []byte) (Event, bool) {
	frame = bytes.TrimSpace(frame)
	data, found := bytes.CutPrefix(frame, []byte("data:"))
	if !found {
		return nil, false
	}
	data = bytes.TrimSpace(data)

	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, false
	}

	var (
		e   Event
		err error
	)
	switch head.Type {
	case TypeStart:
		var v Start
		err = json.Unmarshal(data, &v)
		e = v
	case TypeFeedRefreshing:
		var v FeedRefreshing
		err = json.Unmarshal(data, &v)
		e = v
	case TypeFeedComplete:
		var v FeedComplete
		err = json.Unmarshal(data, &v)
		e = v
	case TypeFeedError:
		var v FeedError
		err = json.Unmarshal(data, &v)
		e = v
	case TypeComplete:
		var v Complete
		err = json.Unmarshal(data, &v)
		e = v
	default:
		return nil, false
	}

	if err != nil {
		return nil, false
	}

	return e, true
}
