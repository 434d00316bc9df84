package api

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/events"
	"github.com/lysyi3m/rss-desk/app/feed"
	"github.com/lysyi3m/rss-desk/app/pipeline"
	"github.com/lysyi3m/rss-desk/app/rules"
	"github.com/lysyi3m/rss-desk/app/scheduler"
)

type FeedParser interface {
	ParseFeed(ctx context.Context, url string, opts feed.Options) (*feed.Document, error)
}

type SchedulerInterface interface {
	RefreshFeed(ctx context.Context, id int64) (pipeline.Result, error)
	RefreshAll(ctx context.Context, opts scheduler.RefreshAllOptions) (events.Stats, error)
	Status() scheduler.Status
}

type RuleTester interface {
	TestRule(ctx context.Context, userID int64, rule rules.Rule, sampleSize int) (*rules.TestResult, error)
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

var (
	_ SchedulerInterface = (*scheduler.Scheduler)(nil)
	_ RuleTester         = (*rules.Engine)(nil)
	_ Subscriber         = (*events.Broker)(nil)
	_ FeedParser         = (*feed.Fetcher)(nil)
)

type Deps struct {
	Feeds     database.FeedRepository
	Articles  database.ArticleRepository
	Rules     database.RuleRepository
	Settings  database.SettingsRepository
	Parser    FeedParser
	Scheduler SchedulerInterface
	Tester    RuleTester
	Events    Subscriber

	UserID            int64
	UserAgent         string
	ManualTimeout     time.Duration
	KeepaliveInterval time.Duration
	Version           string
}

type Handler struct {
	Deps
	now func() time.Time
}

type createFeedRequest struct {
	URL                    string `json:"url"`
	Title                  string `json:"title"`
	RefreshIntervalMinutes int    `json:"refresh_interval_minutes"`
	ExtractContent         bool   `json:"extract_content"`
}

// updateFeedRequest carries optional fields; nil leaves a field unchanged.
type updateFeedRequest struct {
	RefreshIntervalMinutes *int  `json:"refresh_interval_minutes"`
	Paused                 *bool `json:"paused"`
	ExtractContent         *bool `json:"extract_content"`
}

type updateSettingsRequest struct {
	RefreshIntervalMinutes int `json:"refresh_interval_minutes"`
}

type ruleRequest struct {
	Name        string       `json:"name"`
	Enabled     *bool        `json:"enabled"`
	TriggerType string       `json:"trigger_type"`
	Conditions  jsonDocument `json:"conditions"`
	Actions     jsonDocument `json:"actions"`
	Priority    *int         `json:"priority"`
	SampleSize  int          `json:"sample_size,omitempty"`
}

type feedResponse struct {
	ID                     int64      `json:"id"`
	URL                    string     `json:"url"`
	Type                   string     `json:"type"`
	Title                  string     `json:"title"`
	SiteURL                string     `json:"site_url,omitempty"`
	IconURL                string     `json:"icon_url,omitempty"`
	Description            string     `json:"description,omitempty"`
	RefreshIntervalMinutes int        `json:"refresh_interval_minutes"`
	ExtractContent         bool       `json:"extract_content"`
	Paused                 bool       `json:"paused"`
	LastFetchedAt          *time.Time `json:"last_fetched_at"`
	NextFetchAt            *time.Time `json:"next_fetch_at"`
	ErrorCount             int        `json:"error_count"`
	LastError              string     `json:"last_error,omitempty"`
	LastErrorAt            *time.Time `json:"last_error_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func toFeedResponse(f *database.Feed) feedResponse {
	return feedResponse{
		ID:                     f.ID,
		URL:                    f.URL,
		Type:                   f.Type,
		Title:                  f.DisplayTitle(),
		SiteURL:                f.SiteURL,
		IconURL:                f.IconURL,
		Description:            f.Description,
		RefreshIntervalMinutes: f.RefreshIntervalMinutes,
		ExtractContent:         f.ExtractContent,
		Paused:                 f.PausedAt != nil,
		LastFetchedAt:          f.LastFetchedAt,
		NextFetchAt:            f.NextFetchAt,
		ErrorCount:             f.ErrorCount,
		LastError:              f.LastError,
		LastErrorAt:            f.LastErrorAt,
		CreatedAt:              f.CreatedAt,
		UpdatedAt:              f.UpdatedAt,
	}
}

type articleResponse struct {
	ID               int64      `json:"id"`
	FeedID           int64      `json:"feed_id"`
	GUID             string     `json:"guid"`
	Title            string     `json:"title"`
	URL              *string    `json:"url"`
	Author           string     `json:"author,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Content          string     `json:"content,omitempty"`
	ImageURL         string     `json:"image_url,omitempty"`
	PublishedAt      *time.Time `json:"published_at"`
	VideoID          string     `json:"video_id,omitempty"`
	EnclosureURL     string     `json:"enclosure_url,omitempty"`
	EnclosureType    string     `json:"enclosure_type,omitempty"`
	Duration         string     `json:"duration,omitempty"`
	ExtractedContent string     `json:"extracted_content,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toArticleResponse(a *database.Article, full bool) articleResponse {
	resp := articleResponse{
		ID:            a.ID,
		FeedID:        a.FeedID,
		GUID:          a.GUID,
		Title:         a.Title,
		Author:        a.Author,
		Summary:       a.Summary,
		ImageURL:      a.ImageURL,
		PublishedAt:   a.PublishedAt,
		VideoID:       a.VideoID,
		EnclosureURL:  a.EnclosureURL,
		EnclosureType: a.EnclosureType,
		Duration:      a.Duration,
		CreatedAt:     a.CreatedAt,
	}
	if a.URL != "" {
		resp.URL = &a.URL
	}
	if full {
		resp.Content = a.Content
		resp.ExtractedContent = a.ExtractedContent
	}
	return resp
}

type ruleResponse struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Enabled       bool         `json:"enabled"`
	TriggerType   string       `json:"trigger_type"`
	Conditions    jsonDocument `json:"conditions"`
	Actions       jsonDocument `json:"actions"`
	Priority      int          `json:"priority"`
	MatchCount    int          `json:"match_count"`
	LastMatchedAt *time.Time   `json:"last_matched_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func toRuleResponse(r *database.Rule) ruleResponse {
	return ruleResponse{
		ID:            r.ID,
		Name:          r.Name,
		Enabled:       r.Enabled,
		TriggerType:   r.TriggerType,
		Conditions:    jsonDocument(r.Conditions),
		Actions:       jsonDocument(r.Actions),
		Priority:      r.Priority,
		MatchCount:    r.MatchCount,
		LastMatchedAt: r.LastMatchedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type executionResponse struct {
	ID           int64        `json:"id"`
	RuleID       int64        `json:"rule_id"`
	ArticleID    int64        `json:"article_id"`
	Success      bool         `json:"success"`
	ActionsTaken jsonDocument `json:"actions_taken"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ExecutedAt   time.Time    `json:"executed_at"`
}

// jsonDocument is a stored JSON value passed through verbatim. Empty
// documents encode as null.
type jsonDocument []byte

func (d jsonDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d *jsonDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}
