package feed

import (
	"iter"
	"sync/atomic"
	"time"

	"github.com/mmcdole/gofeed"
)

type Type string

const (
	TypeRSS     Type = "rss"
	TypeAtom    Type = "atom"
	TypeYouTube Type = "youtube"
	TypeReddit  Type = "reddit"
	TypePodcast Type = "podcast"
)

func ParseType(s string) (Type, bool) {
	switch t := Type(s); t {
	case TypeRSS, TypeAtom, TypeYouTube, TypeReddit, TypePodcast:
		return t, true
	default:
		return "", false
	}
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Document is a fetched and parsed feed. Its entries can be consumed once.
type Document struct {
	Title       string
	Link        string
	Description string
	Favicon     string
	IsPodcast   bool
	Type        Type

	items    []*gofeed.Item
	consumed atomic.Bool
}

// Entries yields raw entries in document order. Only the first call yields
// anything; a second pass requires fetching the feed again.
func (d *Document) Entries() iter.Seq[*gofeed.Item] {
	return func(yield func(*gofeed.Item) bool) {
		if d.consumed.Swap(true) {
			return
		}
		items := d.items
		d.items = nil
		for _, item := range items {
			if item == nil {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Item is a normalized article ready for storage.
type Item struct {
	GUID            string
	Title           string
	URL             string // empty when the entry has no link
	Author          string
	Content         string
	Summary         string
	ImageURL        string
	PublishedAt     *time.Time
	VideoID         string
	EnclosureURL    string
	EnclosureType   string
	EnclosureLength int64
	Duration        string
}

// Seed describes a feed declared in a YAML file under the feeds directory.
type Seed struct {
	Name            string `yaml:"-"` // derived from filename
	URL             string `yaml:"url"`
	Title           string `yaml:"title"`
	Type            string `yaml:"type"`
	RefreshInterval int    `yaml:"refresh_interval"` // minutes
	Paused          bool   `yaml:"paused"`
	ExtractContent  bool   `yaml:"extract_content"`
}

// Subscription is one feed entry of an OPML document.
type Subscription struct {
	URL      string
	Title    string
	SiteURL  string
	Category string
}
