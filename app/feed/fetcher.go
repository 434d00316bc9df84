package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewFetcher(httpClient *http.Client, userAgent string) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// ParseFeed fetches and parses the feed at rawURL. Errors are one of
// *InvalidURLError, *FetchError or *ParseError.
func (f *Fetcher) ParseFeed(ctx context.Context, rawURL string, opts Options) (*Document, error) {
	if _, err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", cmp.Or(opts.UserAgent, f.userAgent, "RSS Desk/1.0"))
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("timeout after %s: %w", opts.Timeout, err)}
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Status:     cmp.Or(http.StatusText(resp.StatusCode), resp.Status),
		}
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("timeout after %s: %w", opts.Timeout, ctxErr)}
		}
		return nil, &ParseError{Err: err}
	}

	return NewDocument(rawURL, parsed), nil
}

// NewDocument wraps an already parsed feed.
func NewDocument(feedURL string, parsed *gofeed.Feed) *Document {
	feedType := DetectFeedType(feedURL, parsed)

	return &Document{
		Title:       strings.TrimSpace(parsed.Title),
		Link:        parsed.Link,
		Description: strings.TrimSpace(parsed.Description),
		Favicon:     faviconFor(feedURL, parsed),
		IsPodcast:   isPodcast(parsed),
		Type:        feedType,
		items:       parsed.Items,
	}
}

func ValidateURL(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, &InvalidURLError{URL: rawURL, Reason: "url is empty"}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &InvalidURLError{URL: rawURL, Reason: "scheme must be http or https"}
	}

	if u.Host == "" {
		return nil, &InvalidURLError{URL: rawURL, Reason: "host is missing"}
	}

	return u, nil
}

func faviconFor(feedURL string, parsed *gofeed.Feed) string {
	if parsed.Image != nil && parsed.Image.URL != "" {
		return parsed.Image.URL
	}

	if parsed.ITunesExt != nil && parsed.ITunesExt.Image != "" {
		return parsed.ITunesExt.Image
	}

	for _, candidate := range []string{parsed.Link, feedURL} {
		if u, err := url.Parse(candidate); err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https") {
			return fmt.Sprintf("%s://%s/favicon.ico", u.Scheme, u.Host)
		}
	}

	return ""
}
