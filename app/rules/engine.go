package rules

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/metrics"
	"github.com/lysyi3m/rss-desk/app/notify"
)

const DefaultSampleSize = 50

type ArticleSampler interface {
	RecentArticles(ctx context.Context, limit int) ([]database.Article, error)
}

type FeedLister interface {
	ListFeeds(ctx context.Context) ([]database.Feed, error)
}

// Notifier accepts notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(n notify.Notification) error
}

type Engine struct {
	rules    database.RuleRepository
	state    database.ArticleStateRepository
	articles ArticleSampler
	feeds    FeedLister
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(
	rules database.RuleRepository,
	state database.ArticleStateRepository,
	articles ArticleSampler,
	feeds FeedLister,
	notifier Notifier,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		rules:    rules,
		state:    state,
		articles: articles,
		feeds:    feeds,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// Outcome summarizes the rules that matched one article.
type Outcome struct {
	Matched int
	Failed  int
}

// EvaluateArticle runs the user's enabled rules against a newly inserted
// article in priority order. Action failures are recorded on the audit trail
// and never stop evaluation; the returned error only reports that rules
// could not be loaded.
func (e *Engine) EvaluateArticle(ctx context.Context, userID int64, article *database.Article, feedType string) (Outcome, error) {
	var out Outcome

	records, err := e.rules.ListEnabledRules(ctx, userID)
	if err != nil {
		return out, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(records) == 0 {
		return out, nil
	}

	tags, err := e.state.Tags(ctx, userID, article.ID)
	if err != nil {
		slog.Warn("Failed to load article tags", "article", article.ID, "error", err)
	}

	subject := Subject{Article: article, FeedType: feedType, Tags: tags}

	for _, rec := range records {
		rule, err := FromRecord(rec)
		if err != nil {
			slog.Warn("Skipping invalid rule", "rule", rec.ID, "error", err)
			continue
		}

		if !Matches(rule, subject) {
			continue
		}

		out.Matched++
		taken, execErr := e.execute(ctx, userID, rule, &subject)
		if execErr != nil {
			out.Failed++
		}
		e.record(ctx, rule, article.ID, taken, execErr)

		if rule.ShortCircuits() {
			slog.Debug("High priority rule matched, skipping remaining rules",
				"rule", rule.ID, "priority", rule.Priority, "article", article.ID)
			break
		}
	}

	return out, nil
}

// execute runs every action in order. A failed action does not prevent the
// ones after it.
func (e *Engine) execute(ctx context.Context, userID int64, rule Rule, s *Subject) ([]Action, error) {
	var taken []Action
	var errs []error

	for _, action := range rule.Actions {
		if err := e.apply(ctx, userID, rule, action, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", action.Kind(), err))
			continue
		}
		taken = append(taken, action)
	}

	return taken, errors.Join(errs...)
}

func (e *Engine) apply(ctx context.Context, userID int64, rule Rule, action Action, s *Subject) error {
	now := e.now()
	articleID := s.Article.ID

	switch a := action.(type) {
	case MoveToFolder:
		return e.state.MoveToFolder(ctx, userID, articleID, a.FolderID, now)
	case AddTag:
		if err := e.state.AddTag(ctx, userID, articleID, a.Tag, now); err != nil {
			return err
		}
		if !slices.Contains(s.Tags, a.Tag) {
			s.Tags = append(s.Tags, a.Tag)
		}
		return nil
	case MarkRead:
		return e.state.MarkRead(ctx, userID, articleID, now)
	case Bookmark:
		return e.state.Bookmark(ctx, userID, articleID, now)
	case Delete:
		return e.state.SoftDeleteArticle(ctx, articleID, now)
	case Notify:
		if e.notifier == nil {
			return errors.New("notifications are not configured")
		}
		return e.notifier.Enqueue(notify.Notification{
			Title:    cmp.Or(s.Article.Title, rule.Name),
			Message:  cmp.Or(a.Message, fmt.Sprintf("Matched rule %q", rule.Name)),
			BodyHTML: cmp.Or(s.Article.Summary, s.Article.Content),
			Link:     s.Article.URL,
			Tags:     []string{"rss"},
		})
	}

	return fmt.Errorf("%w: %T", ErrUnknownAction, action)
}

func (e *Engine) record(ctx context.Context, rule Rule, articleID int64, taken []Action, execErr error) {
	now := e.now()

	actionsJSON, err := EncodeActions(taken)
	if err != nil {
		actionsJSON = []byte("[]")
	}

	exec := &database.RuleExecution{
		RuleID:       rule.ID,
		ArticleID:    articleID,
		Success:      execErr == nil,
		ActionsTaken: actionsJSON,
		ExecutedAt:   now,
	}
	if execErr != nil {
		exec.ErrorMessage = execErr.Error()
		slog.Warn("Rule actions failed", "rule", rule.ID, "article", articleID, "error", execErr)
	}

	if err := e.rules.InsertExecution(ctx, exec); err != nil {
		slog.Error("Failed to record rule execution", "rule", rule.ID, "article", articleID, "error", err)
	}
	if err := e.rules.RecordMatch(ctx, rule.ID, now); err != nil {
		slog.Error("Failed to update rule match count", "rule", rule.ID, "error", err)
	}

	e.metrics.RecordRuleExecution(execErr == nil)
}

// TestResult is the outcome of a dry run.
type TestResult struct {
	Tested  int                `json:"tested"`
	Matched []database.Article `json:"-"`
}

// TestRule evaluates rule against the most recent articles without executing
// actions or writing executions. It uses the same matcher as live evaluation.
func (e *Engine) TestRule(ctx context.Context, userID int64, rule Rule, sampleSize int) (*TestResult, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	articles, err := e.articles.RecentArticles(ctx, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample articles: %w", err)
	}

	feeds, err := e.feeds.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load feeds: %w", err)
	}
	feedTypes := make(map[int64]string, len(feeds))
	for _, f := range feeds {
		feedTypes[f.ID] = f.Type
	}

	result := &TestResult{Tested: len(articles)}
	for i := range articles {
		a := &articles[i]

		var tags []string
		if rule.hasCondition(FieldTag) {
			tags, err = e.state.Tags(ctx, userID, a.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load tags for article %d: %w", a.ID, err)
			}
		}

		if Matches(rule, Subject{Article: a, FeedType: feedTypes[a.FeedID], Tags: tags}) {
			result.Matched = append(result.Matched, *a)
		}
	}

	return result, nil
}
