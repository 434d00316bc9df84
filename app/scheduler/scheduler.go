// Package scheduler runs the background refresh cadence: a fixed tick that
// decides whether a global refresh is due and, if so, refreshes feeds in
// sequential batches of concurrent pipeline invocations.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/events"
	"github.com/lysyi3m/rss-desk/app/metrics"
	"github.com/lysyi3m/rss-desk/app/pipeline"
)

var (
	ErrCycleInProgress = errors.New("a refresh cycle is already running")
	ErrFeedBusy        = errors.New("feed is already being refreshed")
)

type FeedSource interface {
	GetFeed(ctx context.Context, id int64) (*database.Feed, error)
	GetDueFeeds(ctx context.Context, now time.Time) ([]database.Feed, error)
	GetEligibleFeeds(ctx context.Context) ([]database.Feed, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, userID int64) (*database.UserSettings, error)
	SetNextRefreshAt(ctx context.Context, userID int64, next time.Time) error
}

type Refresher interface {
	Refresh(ctx context.Context, f database.Feed, opts pipeline.Options) pipeline.Result
}

type Publisher interface {
	Publish(e events.Event)
}

type Config struct {
	UserID            int64
	Tick              time.Duration
	InitialDelay      time.Duration
	BatchSize         int
	BreakerThreshold  int
	MaxBackoff        time.Duration
	BackgroundTimeout time.Duration
	ManualTimeout     time.Duration
	MemoryWarning     uint64
	MemoryCritical    uint64
}

// state is everything the scheduler mutates. It belongs to exactly one
// Scheduler and is guarded by mu.
type state struct {
	mu sync.Mutex

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	refreshing          bool
	consecutiveFailures int
	breakerOpen         bool
	nextAttemptAt       time.Time
	inflight            map[int64]struct{}
	lastCycle           *CycleSummary
}

type Scheduler struct {
	cfg       Config
	feeds     FeedSource
	settings  SettingsStore
	refresher Refresher
	publisher Publisher
	metrics   *metrics.Metrics
	memory    MemorySampler
	now       func() time.Time

	cycles sync.WaitGroup
	state  state
}

func New(cfg Config, feeds FeedSource, settings SettingsStore, refresher Refresher, publisher Publisher, m *metrics.Metrics) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}

	return &Scheduler{
		cfg:       cfg,
		feeds:     feeds,
		settings:  settings,
		refresher: refresher,
		publisher: publisher,
		metrics:   m,
		memory:    HeapInUse,
		now:       func() time.Time { return time.Now().UTC() },
		state: state{
			inflight: make(map[int64]struct{}),
		},
	}
}

// Start begins ticking after the initial delay. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.running {
		slog.Info("Scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.state.running = true
	s.state.cancel = cancel
	s.state.done = make(chan struct{})

	go s.loop(ctx, s.state.done)

	slog.Info("Scheduler started",
		"tick", s.cfg.Tick,
		"initial_delay", s.cfg.InitialDelay,
		"batch_size", s.cfg.BatchSize)
}

// Stop cancels pending timers and waits for an in-flight cycle to wind down.
// Feeds already being refreshed finish; no further batches start.
func (s *Scheduler) Stop() {
	s.state.mu.Lock()
	if !s.state.running {
		s.state.mu.Unlock()
		return
	}
	s.state.running = false
	cancel, done := s.state.cancel, s.state.done
	s.state.cancel, s.state.done = nil, nil
	s.state.mu.Unlock()

	cancel()
	<-done
	s.cycles.Wait()

	slog.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.cycles.Add(1)
		go func() {
			defer s.cycles.Done()
			s.tick(ctx)
		}()

		timer.Reset(s.cfg.Tick)
	}
}

// tick runs the guards in order and, if all pass, one refresh cycle. It
// returns the cycle outcome.
func (s *Scheduler) tick(ctx context.Context) string {
	outcome := s.runTick(ctx)
	s.metrics.RecordCycle(outcome)
	return outcome
}

func (s *Scheduler) runTick(ctx context.Context) string {
	if used := s.memory(); s.cfg.MemoryCritical > 0 && used >= s.cfg.MemoryCritical {
		slog.Error("Memory usage critical, skipping refresh cycle",
			"used", humanize.IBytes(used),
			"critical", humanize.IBytes(s.cfg.MemoryCritical))
		return metrics.CycleSkippedMemory
	} else if s.cfg.MemoryWarning > 0 && used >= s.cfg.MemoryWarning {
		slog.Warn("Memory usage high",
			"used", humanize.IBytes(used),
			"warning", humanize.IBytes(s.cfg.MemoryWarning))
	}

	if !s.beginCycle() {
		slog.Info("Previous refresh cycle still in flight, skipping tick")
		return metrics.CycleSkippedBusy
	}
	defer s.endCycle()

	now := s.now()

	if next, open := s.breakerGate(); open && now.Before(next) {
		slog.Debug("Circuit breaker open, waiting", "next_attempt_at", next)
		return metrics.CycleSkippedBreaker
	}

	settings, err := s.settings.GetSettings(ctx, s.cfg.UserID)
	if err != nil {
		s.recordFailure(err)
		return metrics.CycleFailed
	}

	if settings.NextRefreshAt != nil && settings.NextRefreshAt.After(now) {
		slog.Debug("Global refresh not due yet", "next_refresh_at", settings.NextRefreshAt)
		return metrics.CycleNotDue
	}

	summary, err := s.runCycle(ctx, now, false, nil)
	if err != nil {
		s.recordFailure(err)
		s.setLastCycle(summary, metrics.CycleFailed, err)
		return metrics.CycleFailed
	}
	s.recordSuccess()

	if !summary.Stats.Cancelled {
		s.persistNextRefresh(ctx, settings)
	}
	s.setLastCycle(summary, metrics.CycleCompleted, nil)

	return metrics.CycleCompleted
}

func (s *Scheduler) beginCycle() bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.refreshing {
		return false
	}
	s.state.refreshing = true
	return true
}

func (s *Scheduler) endCycle() {
	s.state.mu.Lock()
	s.state.refreshing = false
	s.state.mu.Unlock()
}

// persistNextRefresh writes the global schedule. It is the only writer of
// next_refresh_at.
func (s *Scheduler) persistNextRefresh(ctx context.Context, settings *database.UserSettings) {
	next := s.now().Add(settings.RefreshInterval())

	if err := s.settings.SetNextRefreshAt(context.WithoutCancel(ctx), s.cfg.UserID, next); err != nil {
		slog.Error("Failed to persist next refresh time", "error", err)
		return
	}

	slog.Debug("Next global refresh scheduled", "next_refresh_at", next)
}
