package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// NtfyClient posts notifications to an ntfy topic.
type NtfyClient struct {
	url        string
	token      string
	httpClient *http.Client
	converter  *md.Converter
}

// NewNtfyClient accepts a bare topic name (expanded to https://ntfy.sh/{topic})
// or a full topic URL on a self-hosted server.
func NewNtfyClient(topic, token string, httpClient *http.Client) *NtfyClient {
	url := topic
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		url = "https://ntfy.sh/" + topic
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &NtfyClient{
		url:        url,
		token:      token,
		httpClient: httpClient,
		converter:  md.NewConverter("", true, nil),
	}
}

func (c *NtfyClient) Send(ctx context.Context, n Notification) error {
	body := n.Message
	markdown := false
	if n.BodyHTML != "" {
		if excerpt, err := c.converter.ConvertString(n.BodyHTML); err == nil && strings.TrimSpace(excerpt) != "" {
			body = strings.TrimSpace(body + "\n\n" + truncate(strings.TrimSpace(excerpt), 1000))
			markdown = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}

	req.Header.Set("Title", n.Title)
	if len(n.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(n.Tags, ","))
	}
	if n.Link != "" {
		req.Header.Set("Click", n.Link)
	}
	if markdown {
		req.Header.Set("Markdown", "yes")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: post failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy: HTTP %d", resp.StatusCode)
	}

	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
