// Package preview decides how a song's preview reference can be played.
// Chart entries carry anything from a direct 30-second audio clip to a link
// to a video page, or nothing at all.
package preview

import (
	"net/url"
	"path"
	"strings"

	"github.com/deerzone/deerzone/internal/chart"
)

// Kind classifies what togglePreview should do with a song.
type Kind int

const (
	// None: no usable preview reference; offer the search fallback.
	None Kind = iota
	// PlayStream: a direct audio resource, played in-place.
	PlayStream
	// OpenExternal: a video page, opened in the default browser.
	OpenExternal
)

// Action is the resolved preview plan for one song.
type Action struct {
	Kind Kind
	URL  string
}

var audioExtensions = map[string]bool{
	".m4a":  true,
	".mp3":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
	".wav":  true,
}

var videoHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
}

// Resolve classifies the song's preview reference by URL shape.
func Resolve(s chart.Song) Action {
	raw := strings.TrimSpace(s.PreviewURL)
	if raw == "" {
		return Action{Kind: None}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Action{Kind: None}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, vh := range videoHosts {
		if host == vh || strings.HasSuffix(host, "."+vh) {
			return Action{Kind: OpenExternal, URL: raw}
		}
	}
	if audioExtensions[strings.ToLower(path.Ext(u.Path))] {
		return Action{Kind: PlayStream, URL: raw}
	}
	// The iTunes preview CDN serves clips from an audio path segment
	// without a recognizable extension on some revisions of the feed.
	if strings.Contains(u.Path, "/audio/") {
		return Action{Kind: PlayStream, URL: raw}
	}
	return Action{Kind: OpenExternal, URL: raw}
}

// SearchURL builds a search-engine lookup for songs without a preview.
func SearchURL(artist, title string) string {
	q := url.Values{}
	q.Set("q", strings.TrimSpace(artist+" "+title))
	return "https://duckduckgo.com/?" + q.Encode()
}
