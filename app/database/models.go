package database

import (
	"cmp"
	"time"
)

// PlaceholderTitle is written for feeds added before their first successful fetch.
const PlaceholderTitle = "Untitled Feed"

type Feed struct {
	ID                     int64
	URL                    string
	Type                   string // rss, atom, youtube, reddit, podcast
	Title                  string
	SiteURL                string
	IconURL                string
	Description            string
	RefreshIntervalMinutes int
	ExtractContent         bool
	LastFetchedAt          *time.Time
	NextFetchAt            *time.Time
	ErrorCount             int
	LastError              string
	LastErrorAt            *time.Time
	PausedAt               *time.Time
	DeletedAt              *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (f Feed) RefreshInterval() time.Duration {
	return time.Duration(f.RefreshIntervalMinutes) * time.Minute
}

func (f Feed) DisplayTitle() string {
	return cmp.Or(f.Title, f.URL)
}

func (f Feed) Eligible() bool {
	return f.DeletedAt == nil && f.PausedAt == nil
}

type NewFeed struct {
	URL                    string
	Type                   string
	Title                  string
	RefreshIntervalMinutes int
	ExtractContent         bool
	Paused                 bool
}

// FetchedMetadata is the feed-level metadata observed on a successful fetch.
// Only placeholder columns are overwritten with it.
type FetchedMetadata struct {
	Title       string
	SiteURL     string
	IconURL     string
	Description string
}

type Article struct {
	ID               int64
	FeedID           int64
	GUID             string
	Title            string
	URL              string // empty when the entry had no link
	Author           string
	Content          string
	Summary          string
	ImageURL         string
	PublishedAt      *time.Time
	VideoID          string
	EnclosureURL     string
	EnclosureType    string
	EnclosureLength  int64
	Duration         string
	ExtractedContent string
	ExtractedAt      *time.Time
	DeletedAt        *time.Time
	CreatedAt        time.Time
}

type ArticleQuery struct {
	FeedID int64 // 0 means all feeds
	Limit  int
}

type UserSettings struct {
	UserID                 int64
	RefreshIntervalMinutes int
	NextRefreshAt          *time.Time
	UpdatedAt              time.Time
}

func (s UserSettings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalMinutes) * time.Minute
}

// Rule is the stored form of an automation rule. Conditions and Actions hold
// JSON documents decoded by the rules package.
type Rule struct {
	ID            int64
	UserID        int64
	Name          string
	Enabled       bool
	TriggerType   string
	Conditions    []byte
	Actions       []byte
	Priority      int
	MatchCount    int
	LastMatchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RuleExecution struct {
	ID           int64
	RuleID       int64
	ArticleID    int64
	Success      bool
	ActionsTaken []byte
	ErrorMessage string
	ExecutedAt   time.Time
}
