// Package pipeline refreshes a single feed: fetch, insert new articles,
// update feed health, then hand new articles to the rule engine.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/feed"
	"github.com/lysyi3m/rss-desk/app/metrics"
	"github.com/lysyi3m/rss-desk/app/rules"
)

type FeedParser interface {
	ParseFeed(ctx context.Context, url string, opts feed.Options) (*feed.Document, error)
}

type RuleEvaluator interface {
	EvaluateArticle(ctx context.Context, userID int64, article *database.Article, feedType string) (rules.Outcome, error)
}

// ExtractionQueue schedules full-text extraction for an article.
type ExtractionQueue interface {
	EnqueueExtraction(article database.Article) error
}

type Options struct {
	Timeout time.Duration
	UserID  int64
}

// Result is the outcome of one refresh. It is never persisted directly.
type Result struct {
	Success     bool
	NewArticles int
	Error       string
	NextFetchAt *time.Time
}

type Refresher struct {
	parser     FeedParser
	feeds      database.FeedRepository
	articles   database.ArticleRepository
	rules      RuleEvaluator
	extraction ExtractionQueue
	metrics    *metrics.Metrics
	userAgent  string
	now        func() time.Time
}

// NewRefresher wires the pipeline. rules and extraction may be nil.
func NewRefresher(
	parser FeedParser,
	feeds database.FeedRepository,
	articles database.ArticleRepository,
	rules RuleEvaluator,
	extraction ExtractionQueue,
	m *metrics.Metrics,
	userAgent string,
) *Refresher {
	return &Refresher{
		parser:     parser,
		feeds:      feeds,
		articles:   articles,
		rules:      rules,
		extraction: extraction,
		metrics:    m,
		userAgent:  userAgent,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Refresh never returns an error or panics past its boundary; failures are
// reported through Result and recorded on the feed row. The caller must not
// refresh the same feed concurrently.
func (r *Refresher) Refresh(ctx context.Context, f database.Feed, opts Options) (res Result) {
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Feed refresh panicked", "feed", f.ID, "url", f.URL, "panic", p)
			res = r.fail(ctx, f, fmt.Errorf("internal error: %v", p))
		}
		r.metrics.RecordRefresh(res.Success, res.NewArticles, time.Since(started))
	}()

	doc, err := r.parser.ParseFeed(ctx, f.URL, feed.Options{Timeout: opts.Timeout, UserAgent: r.userAgent})
	if err != nil {
		return r.fail(ctx, f, err)
	}

	feedType := r.resolveType(ctx, f, doc)

	var inserted []*database.Article
	total := 0
	for raw := range doc.Entries() {
		total++
		item := feed.NormalizeArticle(raw, feedType, f.ID)
		article := toArticle(f.ID, item)

		ok, err := r.articles.InsertArticle(ctx, article)
		if err != nil {
			slog.Warn("Failed to insert article", "feed", f.ID, "guid", item.GUID, "error", err)
			continue
		}
		if ok {
			inserted = append(inserted, article)
		}
	}

	now := r.now()
	meta := database.FetchedMetadata{
		Title:       doc.Title,
		SiteURL:     doc.Link,
		IconURL:     doc.Favicon,
		Description: doc.Description,
	}

	if err := r.feeds.RecordFetchSuccess(ctx, f.ID, meta, now); err != nil {
		slog.Error("Failed to update feed after fetch", "feed", f.ID, "error", err)
		r.afterInsert(ctx, f, string(feedType), inserted, opts.UserID)
		return Result{NewArticles: len(inserted), Error: err.Error()}
	}

	r.afterInsert(ctx, f, string(feedType), inserted, opts.UserID)

	next := now.Add(f.RefreshInterval())

	slog.Info("Feed refreshed",
		"feed", f.ID,
		"title", f.DisplayTitle(),
		"duration", time.Since(started),
		"total", total,
		"new", len(inserted))

	return Result{Success: true, NewArticles: len(inserted), NextFetchAt: &next}
}

// resolveType picks the type entries are normalized with. A feed stored as
// plain rss that has never been fetched got its type from the URL alone, so
// it adopts the type detected from the document and keeps it.
func (r *Refresher) resolveType(ctx context.Context, f database.Feed, doc *feed.Document) feed.Type {
	stored, ok := feed.ParseType(f.Type)
	if ok && (stored != feed.TypeRSS || f.LastFetchedAt != nil) {
		return stored
	}

	detected := cmp.Or(doc.Type, feed.TypeRSS)
	if detected == stored {
		return stored
	}

	if err := r.feeds.SetType(ctx, f.ID, string(detected), r.now()); err != nil {
		slog.Warn("Failed to store detected feed type", "feed", f.ID, "type", detected, "error", err)
		return detected
	}

	slog.Info("Feed type detected", "feed", f.ID, "from", f.Type, "to", detected)

	return detected
}

func (r *Refresher) fail(ctx context.Context, f database.Feed, err error) Result {
	msg := err.Error()

	if dbErr := r.feeds.RecordFetchFailure(ctx, f.ID, msg, r.now()); dbErr != nil {
		slog.Error("Failed to record feed error", "feed", f.ID, "error", dbErr)
	}

	slog.Warn("Feed refresh failed", "feed", f.ID, "url", f.URL, "error", msg)

	return Result{Error: msg}
}

// afterInsert runs rules and schedules extraction for newly inserted
// articles. Neither affects the refresh outcome.
func (r *Refresher) afterInsert(ctx context.Context, f database.Feed, feedType string, inserted []*database.Article, userID int64) {
	for _, article := range inserted {
		if r.rules != nil {
			if _, err := r.rules.EvaluateArticle(ctx, userID, article, feedType); err != nil {
				slog.Error("Rule evaluation failed", "feed", f.ID, "article", article.ID, "error", err)
			}
		}

		if f.ExtractContent && r.extraction != nil && article.URL != "" {
			if err := r.extraction.EnqueueExtraction(*article); err != nil {
				slog.Warn("Failed to enqueue content extraction", "article", article.ID, "error", err)
			}
		}
	}
}

func toArticle(feedID int64, item feed.Item) *database.Article {
	return &database.Article{
		FeedID:          feedID,
		GUID:            item.GUID,
		Title:           item.Title,
		URL:             item.URL,
		Author:          item.Author,
		Content:         item.Content,
		Summary:         item.Summary,
		ImageURL:        item.ImageURL,
		PublishedAt:     item.PublishedAt,
		VideoID:         item.VideoID,
		EnclosureURL:    item.EnclosureURL,
		EnclosureType:   item.EnclosureType,
		EnclosureLength: item.EnclosureLength,
		Duration:        item.Duration,
	}
}
