package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/events"
	"github.com/lysyi3m/rss-desk/app/feed"
	"github.com/lysyi3m/rss-desk/app/pipeline"
	"github.com/lysyi3m/rss-desk/app/scheduler"
)

const (
	maxOPMLSize      = 5 << 20
	subscriberBuffer = 32
)

// eventStream writes text/event-stream frames. Headers go out with the first
// frame so a request can still fail with a plain JSON error before that.
type eventStream struct {
	c       *gin.Context
	started bool
}

func (s *eventStream) begin() {
	if s.started {
		return
	}
	s.started = true

	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.c.Writer.Flush()
}

func (s *eventStream) send(e events.Event) error {
	s.begin()
	if err := events.WriteFrame(s.c.Writer, e); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (s *eventStream) keepalive() error {
	s.begin()
	if err := events.WriteKeepalive(s.c.Writer); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

// fail reports err as a JSON error before the stream has started, or as an
// "error" frame after. Clients skip frame types they do not know.
func (s *eventStream) fail(status int, message string, err error) {
	if !s.started {
		s.c.JSON(status, gin.H{"error": message, "details": err.Error()})
		return
	}

	data, _ := json.Marshal(gin.H{"type": "error", "error": message, "details": err.Error()})
	fmt.Fprintf(s.c.Writer, "data: %s\n\n", data)
	s.c.Writer.Flush()
}

// RefreshStream refreshes every eligible feed and streams progress. Closing
// the connection stops further batches; feeds already started finish.
func (h *Handler) RefreshStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream := &eventStream{c: c}

	frames := make(chan events.Event, subscriberBuffer)
	done := make(chan error, 1)

	go func() {
		_, err := h.Scheduler.RefreshAll(ctx, scheduler.RefreshAllOptions{
			Force: true,
			Sink: func(e events.Event) {
				select {
				case frames <- e:
				case <-ctx.Done():
				}
			},
		})
		close(frames)
		done <- err
	}()

	keepalive := time.NewTicker(h.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case e, ok := <-frames:
			if !ok {
				if err := <-done; err != nil {
					if errors.Is(err, scheduler.ErrCycleInProgress) {
						stream.fail(http.StatusConflict, "A refresh is already running", err)
					} else {
						slog.Error("Manual refresh failed", "error", err)
						stream.fail(http.StatusInternalServerError, "Refresh failed", err)
					}
				}
				return
			}
			if err := stream.send(e); err != nil {
				slog.Debug("Refresh stream write failed", "error", err)
				return
			}
		case <-keepalive.C:
			if err := stream.keepalive(); err != nil {
				return
			}
		case <-ctx.Done():
			slog.Info("Refresh stream client disconnected")
			return
		}
	}
}

// EventStream relays every published refresh event until the client leaves.
func (h *Handler) EventStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream := &eventStream{c: c}

	ch, unsubscribe := h.Events.Subscribe(subscriberBuffer)
	defer unsubscribe()

	stream.begin()

	keepalive := time.NewTicker(h.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(e); err != nil {
				return
			}
		case <-keepalive.C:
			if err := stream.keepalive(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ImportOPML creates feeds for the subscriptions in an OPML document and
// refreshes each new feed, streaming progress. Known URLs are skipped.
func (h *Handler) ImportOPML(c *gin.Context) {
	ctx := c.Request.Context()
	stream := &eventStream{c: c}

	body, err := opmlBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing OPML document", "details": err.Error()})
		return
	}
	defer body.Close()

	subs, err := feed.ParseOPML(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OPML document", "details": err.Error()})
		return
	}

	var (
		created []database.Feed
		invalid []events.FeedError
		skipped int
	)
	for _, sub := range subs {
		title := strings.TrimSpace(sub.Title)

		if _, err := feed.ValidateURL(sub.URL); err != nil {
			invalid = append(invalid, events.FeedError{Title: title, Error: err.Error()})
			continue
		}

		existing, err := h.Feeds.GetFeedByURL(ctx, sub.URL)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			slog.Error("Database error", "operation", "get_feed_by_url", "url", sub.URL, "error", err)
			stream.fail(http.StatusInternalServerError, "Database error", err)
			return
		}
		if existing != nil && existing.DeletedAt == nil {
			skipped++
			continue
		}

		f, err := h.Feeds.CreateFeed(ctx, database.NewFeed{
			URL:   sub.URL,
			Type:  string(feed.DetectFeedType(sub.URL, nil)),
			Title: title,
		}, h.now())
		if err != nil {
			slog.Error("Database error", "operation", "create_feed", "url", sub.URL, "error", err)
			invalid = append(invalid, events.FeedError{Title: title, Error: "failed to create feed"})
			continue
		}
		created = append(created, *f)
	}

	slog.Info("OPML parsed", "subscriptions", len(subs), "created", len(created), "skipped", skipped, "invalid", len(invalid))

	stats := events.Stats{TotalFeeds: len(created) + len(invalid), FailedFeeds: []events.FailedFeed{}}

	// Created feeds stay due when the client goes away, so the scheduler
	// picks them up on its next cycle.
	emit := func(e events.Event) bool {
		if err := stream.send(e); err != nil {
			slog.Info("OPML import stream closed, remaining feeds stay due", "error", err)
			return false
		}
		return true
	}

	if !emit(events.Start{TotalFeeds: stats.TotalFeeds}) {
		return
	}

	for _, e := range invalid {
		stats.Errors++
		stats.FailedFeeds = append(stats.FailedFeeds, events.FailedFeed{Title: e.Title, Error: e.Error})
		if !emit(e) {
			return
		}
	}

	for _, f := range created {
		if ctx.Err() != nil {
			stats.Cancelled = true
			slog.Info("OPML import cancelled, remaining feeds stay due", "feeds", len(created))
			break
		}

		if !emit(events.FeedRefreshing{ID: f.ID, Title: f.DisplayTitle()}) {
			return
		}

		res, err := h.Scheduler.RefreshFeed(ctx, f.ID)
		if err != nil {
			res = pipeline.Result{Error: err.Error()}
		}

		var sent bool
		if res.Success {
			stats.Success++
			stats.NewArticles += res.NewArticles
			sent = emit(events.FeedComplete{ID: f.ID, Title: f.DisplayTitle(), NewArticles: res.NewArticles, NextFetchAt: res.NextFetchAt})
		} else {
			stats.Errors++
			stats.FailedFeeds = append(stats.FailedFeeds, events.FailedFeed{ID: f.ID, Title: f.DisplayTitle(), Error: res.Error})
			sent = emit(events.FeedError{ID: f.ID, Title: f.DisplayTitle(), Error: res.Error})
		}
		if !sent {
			return
		}
	}

	emit(events.Complete{Stats: stats})
}

func opmlBody(c *gin.Context) (io.ReadCloser, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxOPMLSize)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, err
		}
		return header.Open()
	}

	return c.Request.Body, nil
}

func (h *Handler) ExportOPML(c *gin.Context) {
	feeds, err := h.Feeds.ListFeeds(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	subs := make([]feed.Subscription, 0, len(feeds))
	for _, f := range feeds {
		subs = append(subs, feed.Subscription{
			URL:     f.URL,
			Title:   f.DisplayTitle(),
			SiteURL: f.SiteURL,
		})
	}

	c.Header("Content-Type", "text/x-opml; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="rss-desk.opml"`)
	c.Status(http.StatusOK)

	if err := feed.WriteOPML(c.Writer, "RSS Desk subscriptions", subs); err != nil {
		slog.Error("OPML export failed", "error", err)
	}
}
