package scheduler

import (
	"log/slog"
	"time"
)

// Only cycle-level failures (the datastore failing to answer the schedule
// or feed-selection queries) reach the breaker. Individual feed failures are
// recorded on the feed rows and never counted here.

func (s *Scheduler) recordFailure(err error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.state.consecutiveFailures++
	failures := s.state.consecutiveFailures

	slog.Error("Refresh cycle failed", "consecutive_failures", failures, "error", err)

	if failures >= s.cfg.BreakerThreshold {
		if !s.state.breakerOpen {
			slog.Error("Circuit breaker activated", "consecutive_failures", failures)
		}
		s.state.breakerOpen = true
		s.state.nextAttemptAt = s.now().Add(s.backoff(failures))
	}

	s.metrics.SetBreaker(s.state.breakerOpen, failures)
}

func (s *Scheduler) recordSuccess() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.breakerOpen {
		slog.Info("Circuit breaker reset", "after_failures", s.state.consecutiveFailures)
	}

	s.state.consecutiveFailures = 0
	s.state.breakerOpen = false
	s.state.nextAttemptAt = time.Time{}

	s.metrics.SetBreaker(false, 0)
}

func (s *Scheduler) breakerGate() (time.Time, bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.nextAttemptAt, s.state.breakerOpen
}

// backoff doubles the tick for every failure from the threshold on:
// tick×2 at the threshold, tick×4 one failure later, capped at MaxBackoff.
func (s *Scheduler) backoff(failures int) time.Duration {
	d := s.cfg.Tick
	for i := 0; i <= failures-s.cfg.BreakerThreshold; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}
