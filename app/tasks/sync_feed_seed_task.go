package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/feed"
)

// SyncFeedSeedTask makes the datastore agree with a feed seed file: the feed
// is created (or restored) and its interval, paused and extraction settings
// follow the seed.
type SyncFeedSeedTask struct {
	Task
	Seed     *feed.Seed
	feedRepo database.FeedRepository
}

func NewSyncFeedSeedTask(seed *feed.Seed, feedRepo database.FeedRepository) *SyncFeedSeedTask {
	return &SyncFeedSeedTask{
		Task:     NewTask(KindSyncFeedSeed, seed.URL),
		Seed:     seed,
		feedRepo: feedRepo,
	}
}

func (t *SyncFeedSeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	now := time.Now().UTC()

	existing, err := t.feedRepo.GetFeedByURL(ctx, t.Seed.URL)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to look up feed: %w", err)
	}

	if existing == nil || existing.DeletedAt != nil {
		created, err := t.feedRepo.CreateFeed(ctx, database.NewFeed{
			URL:                    t.Seed.URL,
			Type:                   t.Seed.Type,
			Title:                  t.Seed.Title,
			RefreshIntervalMinutes: t.Seed.RefreshInterval,
			ExtractContent:         t.Seed.ExtractContent,
			Paused:                 t.Seed.Paused,
		}, now)
		if err != nil {
			return fmt.Errorf("failed to create feed from seed: %w", err)
		}

		slog.Info("Task completed",
			"task", &t.Task,
			"feed", created.ID,
			"seed", t.Seed.Name,
			"action", "created",
			"duration", t.Elapsed())
		return nil
	}

	changed := false

	if existing.RefreshIntervalMinutes != t.Seed.RefreshInterval {
		if err := t.feedRepo.SetRefreshInterval(ctx, existing.ID, t.Seed.RefreshInterval, now); err != nil {
			return fmt.Errorf("failed to update refresh interval: %w", err)
		}
		changed = true
	}

	if (existing.PausedAt != nil) != t.Seed.Paused {
		if err := t.feedRepo.SetPaused(ctx, existing.ID, t.Seed.Paused, now); err != nil {
			return fmt.Errorf("failed to update paused state: %w", err)
		}
		changed = true
	}

	if existing.ExtractContent != t.Seed.ExtractContent {
		if err := t.feedRepo.SetExtractContent(ctx, existing.ID, t.Seed.ExtractContent, now); err != nil {
			return fmt.Errorf("failed to update extract_content: %w", err)
		}
		changed = true
	}

	if t.Seed.Type != "" && existing.Type != t.Seed.Type {
		if err := t.feedRepo.SetType(ctx, existing.ID, t.Seed.Type, now); err != nil {
			return fmt.Errorf("failed to update type: %w", err)
		}
		changed = true
	}

	slog.Info("Task completed",
		"task", &t.Task,
		"feed", existing.ID,
		"seed", t.Seed.Name,
		"changed", changed,
		"duration", t.Elapsed())

	return nil
}
