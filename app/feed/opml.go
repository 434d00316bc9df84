package feed

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

type opmlDocument struct {
	XMLName xml.Name    `xml:"opml"`
	Version string      `xml:"version,attr"`
	Head    opmlHead    `xml:"head"`
	Body    []opmlEntry `xml:"body>outline"`
}

type opmlHead struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type opmlEntry struct {
	Text     string      `xml:"text,attr"`
	Title    string      `xml:"title,attr,omitempty"`
	Type     string      `xml:"type,attr,omitempty"`
	XMLURL   string      `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string      `xml:"htmlUrl,attr,omitempty"`
	Outlines []opmlEntry `xml:"outline"`
}

// ParseOPML flattens an OPML document into subscriptions. Nested outlines
// become categories; duplicate feed URLs are kept once.
func ParseOPML(r io.Reader) ([]Subscription, error) {
	var doc opmlDocument
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	seen := make(map[string]bool)
	var subs []Subscription

	var walk func(entries []opmlEntry, category string)
	walk = func(entries []opmlEntry, category string) {
		for _, entry := range entries {
			feedURL := strings.TrimSpace(entry.XMLURL)
			if feedURL == "" {
				walk(entry.Outlines, cmp.Or(entry.Title, entry.Text, category))
				continue
			}

			if !seen[feedURL] {
				seen[feedURL] = true
				subs = append(subs, Subscription{
					URL:      feedURL,
					Title:    strings.TrimSpace(cmp.Or(entry.Title, entry.Text)),
					SiteURL:  entry.HTMLURL,
					Category: category,
				})
			}

			walk(entry.Outlines, category)
		}
	}
	walk(doc.Body, "")

	return subs, nil
}

// WriteOPML writes subscriptions as an OPML 2.0 document.
func WriteOPML(w io.Writer, title string, subs []Subscription) error {
	doc := opmlDocument{
		Version: "2.0",
		Head: opmlHead{
			Title:       title,
			DateCreated: time.Now().In(time.Local).Format(time.RFC1123Z),
		},
	}

	categories := make(map[string]int)
	for _, sub := range subs {
		entry := opmlEntry{
			Text:    cmp.Or(sub.Title, sub.URL),
			Title:   sub.Title,
			Type:    "rss",
			XMLURL:  sub.URL,
			HTMLURL: sub.SiteURL,
		}

		if sub.Category == "" {
			doc.Body = append(doc.Body, entry)
			continue
		}

		idx, ok := categories[sub.Category]
		if !ok {
			idx = len(doc.Body)
			categories[sub.Category] = idx
			doc.Body = append(doc.Body, opmlEntry{Text: sub.Category, Title: sub.Category})
		}
		doc.Body[idx].Outlines = append(doc.Body[idx].Outlines, entry)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write OPML header: %w", err)
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}

	return encoder.Flush()
}
