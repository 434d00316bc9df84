package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ FeedRepository = (*FeedRepo)(nil)

const feedColumns = `id, url, type, COALESCE(title, ''), COALESCE(site_url, ''), COALESCE(icon_url, ''),
	COALESCE(description, ''), refresh_interval_minutes, extract_content, last_fetched_at, next_fetch_at,
	error_count, COALESCE(last_error, ''), last_error_at, paused_at, deleted_at, created_at, updated_at`

// A column holds placeholder metadata when it is empty or, for title, echoes the URL.
const placeholderTitleCond = `(title IS NULL OR title = '' OR title = url OR title = '` + PlaceholderTitle + `')`

type FeedRepo struct {
	db *DB
}

func NewFeedRepository(db *DB) *FeedRepo {
	return &FeedRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var f Feed
	var extract int
	var lastFetched, nextFetch, lastErrorAt, pausedAt, deletedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&f.ID, &f.URL, &f.Type, &f.Title, &f.SiteURL, &f.IconURL, &f.Description,
		&f.RefreshIntervalMinutes, &extract, &lastFetched, &nextFetch, &f.ErrorCount, &f.LastError,
		&lastErrorAt, &pausedAt, &deletedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	f.ExtractContent = extract != 0
	f.LastFetchedAt = timePtr(lastFetched)
	f.NextFetchAt = timePtr(nextFetch)
	f.LastErrorAt = timePtr(lastErrorAt)
	f.PausedAt = timePtr(pausedAt)
	f.DeletedAt = timePtr(deletedAt)
	f.CreatedAt = fromMillis(createdAt)
	f.UpdatedAt = fromMillis(updatedAt)

	return &f, nil
}

func (r *FeedRepo) queryFeeds(ctx context.Context, query string, args ...any) ([]Feed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}

	return feeds, rows.Err()
}

func (r *FeedRepo) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ? AND deleted_at IS NULL`, id)

	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed %d: %w", id, err)
	}

	return f, nil
}

// GetFeedByURL also returns soft-deleted feeds so callers can restore them.
func (r *FeedRepo) GetFeedByURL(ctx context.Context, url string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)

	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by url: %w", err)
	}

	return f, nil
}

func (r *FeedRepo) ListFeeds(ctx context.Context) ([]Feed, error) {
	feeds, err := r.queryFeeds(ctx, `SELECT `+feedColumns+` FROM feeds WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) GetDueFeeds(ctx context.Context, now time.Time) ([]Feed, error) {
	feeds, err := r.queryFeeds(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE deleted_at IS NULL
		  AND paused_at IS NULL
		  AND (next_fetch_at IS NULL OR next_fetch_at <= ?)
		ORDER BY COALESCE(next_fetch_at, 0), id
	`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds due for refresh: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) GetEligibleFeeds(ctx context.Context) ([]Feed, error) {
	feeds, err := r.queryFeeds(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE deleted_at IS NULL AND paused_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get eligible feeds: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) CountFeeds(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feeds WHERE deleted_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count feeds: %w", err)
	}
	return count, nil
}

// CreateFeed inserts a feed or restores a soft-deleted feed with the same URL.
// next_fetch_at starts NULL so the feed is due immediately.
func (r *FeedRepo) CreateFeed(ctx context.Context, nf NewFeed, now time.Time) (*Feed, error) {
	ts := toMillis(now)
	interval := cmp.Or(nf.RefreshIntervalMinutes, 60)
	var pausedAt sql.NullInt64
	if nf.Paused {
		pausedAt = sql.NullInt64{Int64: ts, Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO feeds (url, type, title, refresh_interval_minutes, extract_content, paused_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			deleted_at = NULL,
			type = excluded.type,
			refresh_interval_minutes = excluded.refresh_interval_minutes,
			extract_content = excluded.extract_content,
			paused_at = excluded.paused_at,
			next_fetch_at = NULL,
			updated_at = excluded.updated_at
		RETURNING id
	`, nf.URL, cmp.Or(nf.Type, "rss"), cmp.Or(nf.Title, PlaceholderTitle), interval,
		boolInt(nf.ExtractContent), pausedAt, ts, ts).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed: %w", err)
	}

	return r.GetFeed(ctx, id)
}

func (r *FeedRepo) RecordFetchSuccess(ctx context.Context, id int64, meta FetchedMetadata, now time.Time) error {
	ts := toMillis(now)

	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds SET
			error_count = 0,
			last_error = NULL,
			last_error_at = NULL,
			last_fetched_at = ?,
			next_fetch_at = ? + refresh_interval_minutes * 60000,
			title = CASE WHEN `+placeholderTitleCond+` AND ? <> '' THEN ? ELSE title END,
			site_url = CASE WHEN (site_url IS NULL OR site_url = '') AND ? <> '' THEN ? ELSE site_url END,
			icon_url = CASE WHEN (icon_url IS NULL OR icon_url = '') AND ? <> '' THEN ? ELSE icon_url END,
			description = CASE WHEN (description IS NULL OR description = '') AND ? <> '' THEN ? ELSE description END,
			updated_at = ?
		WHERE id = ?
	`, ts, ts,
		meta.Title, meta.Title,
		meta.SiteURL, meta.SiteURL,
		meta.IconURL, meta.IconURL,
		meta.Description, meta.Description,
		ts, id)
	if err != nil {
		return fmt.Errorf("failed to record fetch success for feed %d: %w", id, err)
	}

	return nil
}

func (r *FeedRepo) RecordFetchFailure(ctx context.Context, id int64, errMsg string, now time.Time) error {
	ts := toMillis(now)

	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds SET
			error_count = error_count + 1,
			last_error = ?,
			last_error_at = ?,
			next_fetch_at = ? + refresh_interval_minutes * 2 * 60000,
			updated_at = ?
		WHERE id = ?
	`, errMsg, ts, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to record fetch failure for feed %d: %w", id, err)
	}

	return nil
}

func (r *FeedRepo) SetRefreshInterval(ctx context.Context, id int64, minutes int, now time.Time) error {
	ts := toMillis(now)

	res, err := r.db.ExecContext(ctx, `
		UPDATE feeds SET
			refresh_interval_minutes = ?,
			next_fetch_at = COALESCE(last_fetched_at, ?) + ? * 60000,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, minutes, ts, minutes, ts, id)
	if err != nil {
		return fmt.Errorf("failed to set refresh interval for feed %d: %w", id, err)
	}

	return requireAffected(res)
}

func (r *FeedRepo) SetPaused(ctx context.Context, id int64, paused bool, now time.Time) error {
	ts := toMillis(now)

	var pausedAt sql.NullInt64
	if paused {
		pausedAt = sql.NullInt64{Int64: ts, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE feeds SET
			paused_at = CASE WHEN ? IS NULL THEN NULL ELSE COALESCE(paused_at, ?) END,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, pausedAt, pausedAt, ts, id)
	if err != nil {
		return fmt.Errorf("failed to set paused for feed %d: %w", id, err)
	}

	return requireAffected(res)
}

func (r *FeedRepo) SetExtractContent(ctx context.Context, id int64, enabled bool, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET extract_content = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		boolInt(enabled), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("failed to set extract_content for feed %d: %w", id, err)
	}

	return requireAffected(res)
}

func (r *FeedRepo) SetType(ctx context.Context, id int64, feedType string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET type = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		feedType, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("failed to set type for feed %d: %w", id, err)
	}

	return requireAffected(res)
}

func (r *FeedRepo) SoftDeleteFeed(ctx context.Context, id int64, now time.Time) error {
	ts := toMillis(now)

	res, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to delete feed %d: %w", id, err)
	}

	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
