package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ SettingsRepository = (*SettingsRepo)(nil)

type SettingsRepo struct {
	db              *DB
	defaultInterval int
}

// NewSettingsRepository returns a repository that creates missing settings
// rows with defaultInterval minutes between global refreshes.
func NewSettingsRepository(db *DB, defaultInterval int) *SettingsRepo {
	if defaultInterval <= 0 {
		defaultInterval = 30
	}
	return &SettingsRepo{db: db, defaultInterval: defaultInterval}
}

func (r *SettingsRepo) ensure(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_settings (user_id, refresh_interval_minutes, updated_at)
		VALUES (?, ?, ?)
	`, userID, r.defaultInterval, toMillis(time.Now()))
	return err
}

func (r *SettingsRepo) GetSettings(ctx context.Context, userID int64) (*UserSettings, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to initialize settings for user %d: %w", userID, err)
	}

	var s UserSettings
	var next sql.NullInt64
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, refresh_interval_minutes, next_refresh_at, updated_at
		FROM user_settings WHERE user_id = ?
	`, userID).Scan(&s.UserID, &s.RefreshIntervalMinutes, &next, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings for user %d: %w", userID, err)
	}

	s.NextRefreshAt = timePtr(next)
	s.UpdatedAt = fromMillis(updatedAt)

	return &s, nil
}

func (r *SettingsRepo) SetNextRefreshAt(ctx context.Context, userID int64, next time.Time) error {
	if err := r.ensure(ctx, userID); err != nil {
		return fmt.Errorf("failed to initialize settings for user %d: %w", userID, err)
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE user_settings SET next_refresh_at = ?, updated_at = ? WHERE user_id = ?`,
		toMillis(next), toMillis(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("failed to set next refresh for user %d: %w", userID, err)
	}
	return nil
}

func (r *SettingsRepo) SetRefreshInterval(ctx context.Context, userID int64, minutes int) error {
	if err := r.ensure(ctx, userID); err != nil {
		return fmt.Errorf("failed to initialize settings for user %d: %w", userID, err)
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE user_settings SET refresh_interval_minutes = ?, updated_at = ? WHERE user_id = ?`,
		minutes, toMillis(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("failed to set refresh interval for user %d: %w", userID, err)
	}
	return nil
}
