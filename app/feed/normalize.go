package feed

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// NormalizeArticle maps a raw entry to the canonical Item shape. Entries
// without a guid are identified by their link, and entries with neither get
// a deterministic one derived from title and feed id.
func NormalizeArticle(raw *gofeed.Item, feedType Type, feedID int64) Item {
	if raw == nil {
		raw = &gofeed.Item{}
	}

	item := Item{
		Title:   strings.TrimSpace(raw.Title),
		URL:     strings.TrimSpace(raw.Link),
		Author:  extractAuthor(raw),
		Content: cmp.Or(raw.Content, raw.Description),
		Summary: raw.Description,
	}

	item.GUID = cmp.Or(strings.TrimSpace(raw.GUID), item.URL)
	if item.GUID == "" {
		item.GUID = fallbackGUID(item.Title, feedID)
	}

	item.PublishedAt = publishedAt(raw)

	switch feedType {
	case TypeYouTube:
		normalizeYouTube(raw, &item)
	case TypePodcast:
		normalizePodcast(raw, &item)
	case TypeReddit:
		normalizeReddit(raw, &item)
	default:
		normalizeGeneric(raw, &item)
	}

	return item
}

func fallbackGUID(title string, feedID int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", title, feedID)))
	return hex.EncodeToString(hash[:])
}

func publishedAt(raw *gofeed.Item) *time.Time {
	var t *time.Time
	if raw.PublishedParsed != nil {
		t = raw.PublishedParsed
	} else if raw.UpdatedParsed != nil {
		t = raw.UpdatedParsed
	}
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func extractAuthor(raw *gofeed.Item) string {
	var names []string

	if len(raw.Authors) > 0 {
		for _, author := range raw.Authors {
			if author != nil {
				if name := formatAuthor(author.Name, author.Email); name != "" {
					names = append(names, name)
				}
			}
		}
	} else if raw.Author != nil {
		if name := formatAuthor(raw.Author.Name, raw.Author.Email); name != "" {
			names = append(names, name)
		}
	}

	if len(names) == 0 && raw.DublinCoreExt != nil && len(raw.DublinCoreExt.Creator) > 0 {
		names = append(names, strings.TrimSpace(raw.DublinCoreExt.Creator[0]))
	}

	return strings.Join(names, ", ")
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	return cmp.Or(name, email)
}

func normalizeYouTube(raw *gofeed.Item, item *Item) {
	item.VideoID = cmp.Or(extensionValue(raw.Extensions, "yt", "videoId"), videoIDFromLink(item.URL))

	if group, ok := firstExtension(raw.Extensions, "media", "group"); ok {
		if thumb, ok := firstChild(group, "thumbnail"); ok {
			item.ImageURL = thumb.Attrs["url"]
		}
		if item.Content == "" {
			if desc, ok := firstChild(group, "description"); ok {
				item.Content = desc.Value
				item.Summary = desc.Value
			}
		}
	}

	if item.ImageURL == "" && item.VideoID != "" {
		item.ImageURL = fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", item.VideoID)
	}
}

func videoIDFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	if id := u.Query().Get("v"); id != "" {
		return id
	}

	if strings.TrimPrefix(u.Host, "www.") == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}

	if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
		return strings.Trim(rest, "/")
	}

	return ""
}

func normalizePodcast(raw *gofeed.Item, item *Item) {
	var enclosure *gofeed.Enclosure
	for _, enc := range raw.Enclosures {
		if isAudioEnclosure(enc) {
			enclosure = enc
			break
		}
	}
	if enclosure == nil && len(raw.Enclosures) > 0 {
		enclosure = raw.Enclosures[0]
	}
	setEnclosure(item, enclosure)

	if raw.ITunesExt != nil {
		item.Duration = strings.TrimSpace(raw.ITunesExt.Duration)
		item.ImageURL = raw.ITunesExt.Image
		if item.Summary == "" {
			item.Summary = cmp.Or(raw.ITunesExt.Summary, raw.ITunesExt.Subtitle)
		}
	}

	if item.ImageURL == "" && raw.Image != nil {
		item.ImageURL = raw.Image.URL
	}
}

func normalizeReddit(raw *gofeed.Item, item *Item) {
	if thumb, ok := firstExtension(raw.Extensions, "media", "thumbnail"); ok {
		item.ImageURL = thumb.Attrs["url"]
	}

	if item.ImageURL == "" {
		item.ImageURL = firstImageInHTML(item.Content)
	}
}

func normalizeGeneric(raw *gofeed.Item, item *Item) {
	if len(raw.Enclosures) > 0 {
		setEnclosure(item, raw.Enclosures[0])
	}

	switch {
	case raw.Image != nil && raw.Image.URL != "":
		item.ImageURL = raw.Image.URL
	case hasExtension(raw.Extensions, "media", "thumbnail"):
		thumb, _ := firstExtension(raw.Extensions, "media", "thumbnail")
		item.ImageURL = thumb.Attrs["url"]
	case hasExtension(raw.Extensions, "media", "content"):
		content, _ := firstExtension(raw.Extensions, "media", "content")
		if medium := content.Attrs["medium"]; medium == "" || medium == "image" {
			item.ImageURL = content.Attrs["url"]
		}
	case item.EnclosureURL != "" && strings.HasPrefix(item.EnclosureType, "image/"):
		item.ImageURL = item.EnclosureURL
	}
}

func setEnclosure(item *Item, enc *gofeed.Enclosure) {
	if enc == nil {
		return
	}

	item.EnclosureURL = enc.URL
	item.EnclosureType = enc.Type
	if enc.Length != "" {
		if length, err := strconv.ParseInt(enc.Length, 10, 64); err == nil {
			item.EnclosureLength = length
		}
	}
}

func firstImageInHTML(html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}

func hasExtension(exts ext.Extensions, namespace, name string) bool {
	_, ok := firstExtension(exts, namespace, name)
	return ok
}

func firstExtension(exts ext.Extensions, namespace, name string) (ext.Extension, bool) {
	if exts == nil {
		return ext.Extension{}, false
	}
	values := exts[namespace][name]
	if len(values) == 0 {
		return ext.Extension{}, false
	}
	return values[0], true
}

func firstChild(e ext.Extension, name string) (ext.Extension, bool) {
	children := e.Children[name]
	if len(children) == 0 {
		return ext.Extension{}, false
	}
	return children[0], true
}

func extensionValue(exts ext.Extensions, namespace, name string) string {
	e, ok := firstExtension(exts, namespace, name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(e.Value)
}
