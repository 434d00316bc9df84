package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/rss-desk/app/feed"
)

const maxPageSize = 5 << 20

// ExtractContentTask downloads an article page and stores its readable
// content next to the article.
type ExtractContentTask struct {
	Task
	ArticleID int64
	URL       string
	deps      Deps
}

func NewExtractContentTask(articleID int64, articleURL string, deps Deps) *ExtractContentTask {
	return &ExtractContentTask{
		Task:      NewTask(KindExtractContent, articleURL),
		ArticleID: articleID,
		URL:       articleURL,
		deps:      deps,
	}
}

func (t *ExtractContentTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	pageURL, err := feed.ValidateURL(t.URL)
	if err != nil {
		slog.Debug("Skipping content extraction", "article", t.ArticleID, "error", err)
		return nil
	}

	data, err := t.fetchPage(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("failed to fetch article content: %w", err)
	}

	content, err := t.deps.Extractor.Run(data, pageURL)
	if err != nil {
		return fmt.Errorf("failed to extract content: %w", err)
	}

	if err := t.deps.Articles.SetExtractedContent(ctx, t.ArticleID, content, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store extracted content: %w", err)
	}

	slog.Info("Task completed",
		"task", &t.Task,
		"article", t.ArticleID,
		"duration", t.Elapsed(),
		"content_length", len(content))

	return nil
}

func (t *ExtractContentTask) fetchPage(ctx context.Context, pageURL *url.URL) ([]byte, error) {
	if t.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.deps.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if t.deps.UserAgent != "" {
		req.Header.Set("User-Agent", t.deps.UserAgent)
	}

	resp, err := t.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, permanent(fmt.Errorf("content type is not HTML: %s", contentType))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
