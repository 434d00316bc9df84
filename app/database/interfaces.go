package database

import (
	"context"
	"time"
)

type FeedRepository interface {
	GetFeed(ctx context.Context, id int64) (*Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*Feed, error)
	ListFeeds(ctx context.Context) ([]Feed, error)
	GetDueFeeds(ctx context.Context, now time.Time) ([]Feed, error)
	GetEligibleFeeds(ctx context.Context) ([]Feed, error)
	CountFeeds(ctx context.Context) (int, error)

	CreateFeed(ctx context.Context, feed NewFeed, now time.Time) (*Feed, error)
	RecordFetchSuccess(ctx context.Context, id int64, meta FetchedMetadata, now time.Time) error
	RecordFetchFailure(ctx context.Context, id int64, errMsg string, now time.Time) error
	SetRefreshInterval(ctx context.Context, id int64, minutes int, now time.Time) error
	SetPaused(ctx context.Context, id int64, paused bool, now time.Time) error
	SetExtractContent(ctx context.Context, id int64, enabled bool, now time.Time) error
	SetType(ctx context.Context, id int64, feedType string, now time.Time) error
	SoftDeleteFeed(ctx context.Context, id int64, now time.Time) error
}

type ArticleRepository interface {
	InsertArticle(ctx context.Context, article *Article) (bool, error)
	GetArticle(ctx context.Context, id int64) (*Article, error)
	ListArticles(ctx context.Context, query ArticleQuery) ([]Article, error)
	RecentArticles(ctx context.Context, limit int) ([]Article, error)
	SetExtractedContent(ctx context.Context, id int64, content string, now time.Time) error
}

// ArticleStateRepository covers per-user state attached to articles.
type ArticleStateRepository interface {
	MoveToFolder(ctx context.Context, userID, articleID, folderID int64, now time.Time) error
	AddTag(ctx context.Context, userID, articleID int64, tag string, now time.Time) error
	Tags(ctx context.Context, userID, articleID int64) ([]string, error)
	MarkRead(ctx context.Context, userID, articleID int64, now time.Time) error
	Bookmark(ctx context.Context, userID, articleID int64, now time.Time) error
	SoftDeleteArticle(ctx context.Context, articleID int64, now time.Time) error
}

type RuleRepository interface {
	ListRules(ctx context.Context, userID int64) ([]Rule, error)
	ListEnabledRules(ctx context.Context, userID int64) ([]Rule, error)
	GetRule(ctx context.Context, userID, id int64) (*Rule, error)
	CreateRule(ctx context.Context, rule *Rule, now time.Time) error
	UpdateRule(ctx context.Context, rule *Rule, now time.Time) error
	DeleteRule(ctx context.Context, userID, id int64) error
	RecordMatch(ctx context.Context, id int64, now time.Time) error

	InsertExecution(ctx context.Context, exec *RuleExecution) error
	ListExecutions(ctx context.Context, ruleID int64, limit int) ([]RuleExecution, error)
}

type SettingsRepository interface {
	GetSettings(ctx context.Context, userID int64) (*UserSettings, error)
	SetNextRefreshAt(ctx context.Context, userID int64, next time.Time) error
	SetRefreshInterval(ctx context.Context, userID int64, minutes int) error
}
