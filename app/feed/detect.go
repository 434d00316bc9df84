package feed

import (
	"net/url"
	"path"
	"strings"

	"github.com/mmcdole/gofeed"
)

// DetectFeedType classifies a feed from its URL and parsed document.
// YouTube markers win over podcast markers, which win over Reddit URLs.
func DetectFeedType(feedURL string, doc *gofeed.Feed) Type {
	if isYouTubeURL(feedURL) || hasYouTubeMarkers(doc) {
		return TypeYouTube
	}

	if isPodcast(doc) {
		return TypePodcast
	}

	if isRedditURL(feedURL) {
		return TypeReddit
	}

	return TypeRSS
}

func isYouTubeURL(feedURL string) bool {
	u, err := url.Parse(strings.ToLower(feedURL))
	if err != nil {
		return false
	}

	host := strings.TrimPrefix(u.Host, "www.")
	if host != "youtube.com" && host != "m.youtube.com" && host != "youtu.be" {
		return false
	}

	if strings.HasPrefix(u.Path, "/feeds/videos.xml") {
		return true
	}

	q := u.Query()
	if q.Get("channel_id") != "" || q.Get("playlist_id") != "" {
		return true
	}

	return strings.HasPrefix(u.Path, "/channel/") || strings.HasPrefix(u.Path, "/@")
}

func hasYouTubeMarkers(doc *gofeed.Feed) bool {
	if doc == nil {
		return false
	}

	if _, ok := doc.Extensions["yt"]; ok {
		return true
	}

	for _, item := range doc.Items {
		if item == nil {
			continue
		}
		if _, ok := item.Extensions["yt"]; ok {
			return true
		}
	}

	return false
}

func isPodcast(doc *gofeed.Feed) bool {
	if doc == nil {
		return false
	}

	if doc.ITunesExt != nil {
		return true
	}

	if _, ok := doc.Extensions["itunes"]; ok {
		return true
	}

	for _, item := range doc.Items {
		if item == nil {
			continue
		}
		if item.ITunesExt != nil {
			return true
		}
		for _, enc := range item.Enclosures {
			if isAudioEnclosure(enc) {
				return true
			}
		}
	}

	return false
}

func isAudioEnclosure(enc *gofeed.Enclosure) bool {
	if enc == nil {
		return false
	}

	if strings.HasPrefix(strings.ToLower(enc.Type), "audio/") {
		return true
	}

	if enc.Type == "" {
		switch strings.ToLower(path.Ext(strings.SplitN(enc.URL, "?", 2)[0])) {
		case ".mp3", ".m4a", ".aac", ".ogg", ".opus", ".wav", ".flac":
			return true
		}
	}

	return false
}

func isRedditURL(feedURL string) bool {
	u, err := url.Parse(strings.ToLower(feedURL))
	if err != nil {
		return false
	}

	host := u.Host
	if host != "reddit.com" && !strings.HasSuffix(host, ".reddit.com") {
		return false
	}

	return strings.HasPrefix(u.Path, "/r/") || strings.HasPrefix(u.Path, "/user/") || strings.HasPrefix(u.Path, "/u/")
}
