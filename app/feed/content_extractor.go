package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/microcosm-cc/bluemonday"
)

type ContentExtractor struct {
	policy *bluemonday.Policy
}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{
		policy: bluemonday.UGCPolicy(),
	}
}

// Run extracts the readable article body from an HTML page and returns it as
// sanitized HTML. pageURL may be nil.
func (e *ContentExtractor) Run(data []byte, pageURL *url.URL) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	var buf strings.Builder
	if err := article.RenderHTML(&buf); err != nil {
		return "", fmt.Errorf("failed to render extracted content: %w", err)
	}

	content := strings.TrimSpace(e.policy.Sanitize(buf.String()))
	if content == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	slog.Debug("Content extracted successfully", "content_length", len(content))

	return content, nil
}
