package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/events"
	"github.com/lysyi3m/rss-desk/app/metrics"
	"github.com/lysyi3m/rss-desk/app/pipeline"
)

// Sink receives the events of one refresh-all call in addition to the
// publisher. Calls are serialized.
type Sink func(events.Event)

type RefreshAllOptions struct {
	// Force refreshes every eligible feed, not only those due.
	Force bool
	Sink  Sink
}

type CycleSummary struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcome    string       `json:"outcome"`
	Stats      events.Stats `json:"stats"`
	Error      string       `json:"error,omitempty"`
}

// RefreshAll runs one cycle on demand. It stops dispatching batches once ctx
// is cancelled; feeds already started finish and keep their results.
func (s *Scheduler) RefreshAll(ctx context.Context, opts RefreshAllOptions) (events.Stats, error) {
	if !s.beginCycle() {
		return events.Stats{}, ErrCycleInProgress
	}
	defer s.endCycle()

	settings, err := s.settings.GetSettings(ctx, s.cfg.UserID)
	if err != nil {
		return events.Stats{}, fmt.Errorf("failed to load settings: %w", err)
	}

	summary, err := s.runCycle(ctx, s.now(), opts.Force, opts.Sink)
	if err != nil {
		s.setLastCycle(summary, metrics.CycleFailed, err)
		return summary.Stats, err
	}

	if !summary.Stats.Cancelled {
		s.persistNextRefresh(ctx, settings)
	}
	s.setLastCycle(summary, metrics.CycleCompleted, nil)

	return summary.Stats, nil
}

// runCycle selects feeds and refreshes them batch by batch. The returned
// error is a cycle-level failure; per-feed failures only show in the stats.
func (s *Scheduler) runCycle(ctx context.Context, now time.Time, force bool, sink Sink) (CycleSummary, error) {
	summary := CycleSummary{StartedAt: now}

	var sinkMu sync.Mutex
	emit := func(e events.Event) {
		if s.publisher != nil {
			s.publisher.Publish(e)
		}
		if sink != nil {
			sinkMu.Lock()
			sink(e)
			sinkMu.Unlock()
		}
	}

	var (
		candidates []database.Feed
		err        error
	)
	if force {
		candidates, err = s.feeds.GetEligibleFeeds(ctx)
	} else {
		candidates, err = s.feeds.GetDueFeeds(ctx, now)
	}
	if err != nil {
		summary.FinishedAt = s.now()
		return summary, fmt.Errorf("failed to select feeds: %w", err)
	}

	feeds := s.claim(candidates)
	defer s.release(feeds)

	stats := events.Stats{TotalFeeds: len(feeds), FailedFeeds: []events.FailedFeed{}}
	var mu sync.Mutex

	slog.Info("Refresh cycle started", "feeds", len(feeds), "skipped_busy", len(candidates)-len(feeds), "forced", force)
	emit(events.Start{TotalFeeds: len(feeds)})

	for start := 0; start < len(feeds); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			stats.Cancelled = true
			slog.Info("Refresh cycle cancelled", "remaining", len(feeds)-start)
			break
		}

		batch := feeds[start:min(start+s.cfg.BatchSize, len(feeds))]

		var g errgroup.Group
		for _, f := range batch {
			g.Go(func() error {
				res := s.refreshOne(ctx, f, s.cfg.BackgroundTimeout, emit)

				mu.Lock()
				defer mu.Unlock()
				if res.Success {
					stats.Success++
					stats.NewArticles += res.NewArticles
				} else {
					stats.Errors++
					stats.FailedFeeds = append(stats.FailedFeeds, events.FailedFeed{ID: f.ID, Title: f.DisplayTitle(), Error: res.Error})
				}
				return nil
			})
		}
		g.Wait()
	}

	emit(events.Complete{Stats: stats})

	summary.Stats = stats
	summary.FinishedAt = s.now()

	slog.Info("Refresh cycle completed",
		"feeds", stats.TotalFeeds,
		"success", stats.Success,
		"errors", stats.Errors,
		"new_articles", stats.NewArticles,
		"cancelled", stats.Cancelled,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))

	return summary, nil
}

// refreshOne runs the pipeline for f on a context detached from ctx's
// cancellation, so a disconnecting client cannot abort a half-written refresh.
func (s *Scheduler) refreshOne(ctx context.Context, f database.Feed, timeout time.Duration, emit Sink) (res pipeline.Result) {
	title := f.DisplayTitle()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Feed refresh panicked", "feed", f.ID, "panic", p)
			res = pipeline.Result{Error: fmt.Sprintf("internal error: %v", p)}
		}

		if res.Success {
			emit(events.FeedComplete{ID: f.ID, Title: title, NewArticles: res.NewArticles, NextFetchAt: res.NextFetchAt})
		} else {
			emit(events.FeedError{ID: f.ID, Title: title, Error: res.Error})
		}
	}()

	emit(events.FeedRefreshing{ID: f.ID, Title: title})

	return s.refresher.Refresh(context.WithoutCancel(ctx), f, pipeline.Options{
		Timeout: timeout,
		UserID:  s.cfg.UserID,
	})
}

// RefreshFeed refreshes one feed immediately with the manual timeout. The
// outcome does not touch the circuit breaker.
func (s *Scheduler) RefreshFeed(ctx context.Context, id int64) (pipeline.Result, error) {
	f, err := s.feeds.GetFeed(ctx, id)
	if err != nil {
		return pipeline.Result{}, err
	}

	if len(s.claim([]database.Feed{*f})) == 0 {
		return pipeline.Result{}, ErrFeedBusy
	}
	defer s.release([]database.Feed{*f})

	emit := func(e events.Event) {
		if s.publisher != nil {
			s.publisher.Publish(e)
		}
	}

	return s.refreshOne(ctx, *f, s.cfg.ManualTimeout, emit), nil
}

// claim marks feeds as in flight and returns those that were not already.
func (s *Scheduler) claim(feeds []database.Feed) []database.Feed {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	claimed := make([]database.Feed, 0, len(feeds))
	for _, f := range feeds {
		if _, busy := s.state.inflight[f.ID]; busy {
			continue
		}
		s.state.inflight[f.ID] = struct{}{}
		claimed = append(claimed, f)
	}
	return claimed
}

func (s *Scheduler) release(feeds []database.Feed) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, f := range feeds {
		delete(s.state.inflight, f.ID)
	}
}

func (s *Scheduler) setLastCycle(summary CycleSummary, outcome string, err error) {
	summary.Outcome = outcome
	if err != nil {
		summary.Error = err.Error()
	}

	s.state.mu.Lock()
	s.state.lastCycle = &summary
	s.state.mu.Unlock()
}

type Status struct {
	Running             bool          `json:"running"`
	Refreshing          bool          `json:"refreshing"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	BreakerOpen         bool          `json:"breaker_open"`
	NextAttemptAt       *time.Time    `json:"next_attempt_at,omitempty"`
	InFlight            int           `json:"in_flight"`
	LastCycle           *CycleSummary `json:"last_cycle,omitempty"`
}

func (s *Scheduler) Status() Status {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	st := Status{
		Running:             s.state.running,
		Refreshing:          s.state.refreshing,
		ConsecutiveFailures: s.state.consecutiveFailures,
		BreakerOpen:         s.state.breakerOpen,
		InFlight:            len(s.state.inflight),
	}
	if s.state.breakerOpen {
		next := s.state.nextAttemptAt
		st.NextAttemptAt = &next
	}
	if s.state.lastCycle != nil {
		last := *s.state.lastCycle
		st.LastCycle = &last
	}

	return st
}
