package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	channelIDPattern     = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	channelHandlePattern = regexp.MustCompile(`^@[A-Za-z0-9_.-]+$`)
	genericIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)
	playlistIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ValidURL accepts absolute http(s) URLs with a host that cannot be mistaken for a flag.
func ValidURL(raw string) bool {
	if raw == "" || strings.HasPrefix(raw, "-") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidVideoID reports whether id looks like a YouTube video id.
func ValidVideoID(id string) bool {
	return videoIDPattern.MatchString(id)
}

// ValidPlaylistID reports whether id is safe to embed in a playlist URL.
func ValidPlaylistID(id string) bool {
	return playlistIDPattern.MatchString(id)
}

// ValidChannelID accepts UC ids, @handles and opaque ids of other platforms.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id) || channelHandlePattern.MatchString(id) || genericIDPattern.MatchString(id)
}

// IsYouTubeChannelID reports whether id is a YouTube UC id or @handle.
func IsYouTubeChannelID(id string) bool {
	return channelIDPattern.MatchString(id) || channelHandlePattern.MatchString(id)
}

// VideoURL is the watch page of a YouTube video.
func VideoURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// PlaylistURL is the page of a YouTube playlist.
func PlaylistURL(playlistID string) string {
	return "https://www.youtube.com/playlist?list=" + playlistID
}

// ChannelTabURL is a tab (videos, shorts, streams, playlists) of a YouTube channel.
func ChannelTabURL(channelID, tab string) string {
	base := "https://www.youtube.com/channel/" + channelID
	if strings.HasPrefix(channelID, "@") {
		base = "https://www.youtube.com/" + channelID
	}
	if tab == "" {
		return base
	}
	return base + "/" + tab
}

// SearchURL builds a YouTube results page URL carrying an encoded filter.
func SearchURL(query, sp string) string {
	v := url.Values{}
	v.Set("search_query", query)
	if sp != "" {
		v.Set("sp", sp)
	}
	return "https://www.youtube.com/results?" + v.Encode()
}

// PageItems converts a 1-based page of size perPage into a --playlist-items range.
func PageItems(page, perPage int) string {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	start := (page-1)*perPage + 1
	return fmt.Sprintf("%d:%d", start, start+perPage-1)
}

// ChannelSearchURL searches within a YouTube channel, or appends a search path
// to a channel URL of another platform.
func ChannelSearchURL(channelID, query string) string {
	q := url.Values{"query": {query}}.Encode()
	if strings.HasPrefix(channelID, "http://") || strings.HasPrefix(channelID, "https://") {
		return strings.TrimRight(channelID, "/") + "/search?" + q
	}
	return ChannelTabURL(channelID, "search") + "?" + q
}
