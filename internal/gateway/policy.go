package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/yattee/server/internal/cache"
	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/invidious"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

// Class names a kind of resource the gateway can resolve.
type Class string

const (
	ClassVideo             Class = "video"
	ClassChannel           Class = "channel"
	ClassChannelVideos     Class = "channel-videos"
	ClassChannelPlaylists  Class = "channel-playlists"
	ClassChannelTab        Class = "channel-tab"
	ClassChannelSearch     Class = "channel-search"
	ClassPlaylist          Class = "playlist"
	ClassSearch            Class = "search"
	ClassSearchSuggestions Class = "search-suggestions"
	ClassTrending          Class = "trending"
	ClassPopular           Class = "popular"
	ClassComments          Class = "comments"
	ClassCaptions          Class = "captions"
	ClassStoryboards       Class = "storyboards"
	ClassThumbnails        Class = "thumbnails"
	ClassExtract           Class = "extract"
	ClassExtractChannel    Class = "extract-channel"
	ClassChannelFeed       Class = "channel-feed"
)

// Descriptor identifies one resource. Only the fields meaningful for Class are read.
type Descriptor struct {
	Class        Class
	ID           string
	URL          string
	Query        string
	Type         string
	Tab          string
	Page         int
	Continuation string
	Region       string
	Sort         string
	Date         string
	Duration     string
	File         string
	// Site is the platform of a channel-feed descriptor; empty means YouTube.
	Site string
	// ForceInvidious overrides the per-class Invidious toggle when set.
	ForceInvidious *bool
}

// CacheKey is the deterministic cache key of d.
func CacheKey(d Descriptor) string {
	force := ""
	if d.ForceInvidious != nil {
		force = strconv.FormatBool(*d.ForceInvidious)
	}
	return cache.Key(string(d.Class),
		d.ID,
		d.URL,
		cache.NormalizeQuery(d.Query),
		strings.ToLower(d.Type),
		d.Tab,
		strconv.Itoa(d.Page),
		d.Continuation,
		strings.ToUpper(d.Region),
		d.Sort,
		d.Date,
		d.Duration,
		d.File,
		force,
	)
}

type gateKind int

const (
	gateNone gateKind = iota
	gateYouTube
	gateURL
)

type fetchFunc func(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error)

type invidiousFunc func(ctx context.Context, c *invidious.Client, d Descriptor) (any, error)

// policy is one row of the backend table. useInvidious == nil means the class
// never uses Invidious; extract == nil means it has no other backend.
type policy struct {
	useInvidious   func(s settings.Settings, d Descriptor) bool
	invidious      invidiousFunc
	extract        fetchFunc
	extractBackend string
	attempts       int
	gate           gateKind
	ttl            func(s settings.Settings) time.Duration
	validate       func(d Descriptor) error
	decode         func(raw []byte) (any, error)
}

func decodeAs[T any](raw []byte) (any, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func always(settings.Settings, Descriptor) bool { return true }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func videoTTL(s settings.Settings) time.Duration   { return seconds(s.CacheVideoTTL) }
func searchTTL(s settings.Settings) time.Duration  { return seconds(s.CacheSearchTTL) }
func channelTTL(s settings.Settings) time.Duration { return seconds(s.CacheChannelTTL) }
func extractTTL(s settings.Settings) time.Duration { return seconds(s.CacheExtractTTL) }

func requireVideoID(d Descriptor) error {
	if !extractor.ValidVideoID(d.ID) {
		return invalidf("invalid video id %q", d.ID)
	}
	return nil
}

// requireChannel accepts YouTube channel ids, or any channel of another
// platform whose page URL is known.
func requireChannel(d Descriptor) error {
	if extractor.IsYouTubeChannelID(d.ID) {
		return nil
	}
	if !extractor.ValidChannelID(d.ID) && d.URL == "" {
		return invalidf("invalid channel id %q", d.ID)
	}
	if !extractor.ValidURL(d.URL) {
		return invalidf("channel %q is not a YouTube channel and has no valid url", d.ID)
	}
	return nil
}

// youtubeChannel gates an Invidious toggle to YouTube channel ids.
func youtubeChannel(toggle func(s settings.Settings) bool) func(settings.Settings, Descriptor) bool {
	return func(s settings.Settings, d Descriptor) bool {
		return extractor.IsYouTubeChannelID(d.ID) && toggle(s)
	}
}

func requirePlaylistID(d Descriptor) error {
	if !extractor.ValidPlaylistID(d.ID) {
		return invalidf("invalid playlist id %q", d.ID)
	}
	return nil
}

func requireQuery(d Descriptor) error {
	if strings.TrimSpace(d.Query) == "" {
		return invalidf("query cannot be empty")
	}
	return nil
}

func requireURL(d Descriptor) error {
	if !extractor.ValidURL(d.URL) {
		return invalidf("invalid url %q", d.URL)
	}
	return nil
}

var channelTabs = map[string]bool{"shorts": true, "streams": true}

var searchTypes = map[string]bool{"video": true, "channel": true, "playlist": true, "all": true}

func defaultPolicies() map[Class]policy {
	return map[Class]policy{
		ClassVideo: {
			useInvidious: func(s settings.Settings, _ Descriptor) bool { return s.InvidiousProxyVideos },
			invidious:    invidiousVideo,
			extract:      ytdlpVideo,
			gate:         gateYouTube,
			ttl:          videoTTL,
			validate:     requireVideoID,
			decode:       decodeAs[models.Video],
		},
		ClassChannel: {
			useInvidious: youtubeChannel(func(s settings.Settings) bool { return s.InvidiousProxyChannels }),
			invidious:    invidiousChannel,
			extract:      ytdlpChannel,
			ttl:          channelTTL,
			validate:     requireChannel,
			decode:       decodeAs[models.Channel],
		},
		ClassChannelVideos: {
			useInvidious: youtubeChannel(func(s settings.Settings) bool { return s.InvidiousProxyChannels }),
			invidious:    invidiousChannelVideos,
			extract:      ytdlpChannelVideos,
			ttl:          channelTTL,
			validate:     requireChannel,
			decode:       decodeAs[models.ChannelVideos],
		},
		ClassChannelPlaylists: {
			useInvidious: youtubeChannel(func(s settings.Settings) bool { return s.InvidiousProxyChannelTabs }),
			invidious:    invidiousChannelPlaylists,
			extract:      ytdlpChannelPlaylists,
			ttl:          channelTTL,
			validate:     requireChannel,
			decode:       decodeAs[models.ChannelPlaylists],
		},
		ClassChannelTab: {
			useInvidious: youtubeChannel(func(s settings.Settings) bool { return s.InvidiousProxyChannelTabs }),
			invidious:    invidiousChannelTab,
			extract:      ytdlpChannelTab,
			ttl:          channelTTL,
			validate: func(d Descriptor) error {
				if !channelTabs[d.Tab] {
					return invalidf("unknown channel tab %q", d.Tab)
				}
				return requireChannel(d)
			},
			decode: decodeAs[models.ChannelVideos],
		},
		ClassChannelSearch: {
			useInvidious: youtubeChannel(func(s settings.Settings) bool { return s.InvidiousProxyChannels }),
			invidious:    invidiousChannelSearch,
			extract:      ytdlpChannelSearch,
			ttl:          searchTTL,
			validate: func(d Descriptor) error {
				if err := requireQuery(d); err != nil {
					return err
				}
				return requireChannel(d)
			},
			decode: decodeAs[models.ChannelVideos],
		},
		ClassPlaylist: {
			useInvidious: func(s settings.Settings, _ Descriptor) bool { return s.InvidiousProxyPlaylists },
			invidious:    invidiousPlaylist,
			extract:      ytdlpPlaylist,
			ttl:          channelTTL,
			validate:     requirePlaylistID,
			decode:       decodeAs[models.Playlist],
		},
		ClassSearch: {
			useInvidious: func(_ settings.Settings, d Descriptor) bool { return searchType(d) != "video" },
			invidious:    invidiousSearch,
			extract:      ytdlpSearch,
			ttl:          searchTTL,
			validate: func(d Descriptor) error {
				if !searchTypes[searchType(d)] {
					return invalidf("unknown search type %q", d.Type)
				}
				return requireQuery(d)
			},
			decode: decodeAs[[]models.SearchResult],
		},
		ClassSearchSuggestions: {
			useInvidious: always,
			invidious:    invidiousSuggestions,
			ttl:          searchTTL,
			decode:       decodeAs[models.SearchSuggestions],
		},
		ClassTrending: {
			useInvidious: always,
			invidious:    invidiousTrending,
			ttl:          searchTTL,
			decode:       decodeAs[[]models.VideoListItem],
		},
		ClassPopular: {
			useInvidious: always,
			invidious:    invidiousPopular,
			ttl:          searchTTL,
			decode:       decodeAs[[]models.VideoListItem],
		},
		ClassComments: {
			useInvidious: always,
			invidious:    invidiousComments,
			ttl:          searchTTL,
			validate:     requireVideoID,
			decode:       decodeAs[models.Comments],
		},
		ClassCaptions: {
			useInvidious: func(s settings.Settings, _ Descriptor) bool { return s.InvidiousProxyCaptions },
			invidious:    invidiousCaptions,
			extract:      ytdlpCaptions,
			ttl:          videoTTL,
			validate:     requireVideoID,
			decode:       decodeAs[models.Captions],
		},
		ClassStoryboards: {
			useInvidious: always,
			invidious:    invidiousStoryboards,
			ttl:          videoTTL,
			validate:     requireVideoID,
			decode:       decodeAs[models.Storyboards],
		},
		ClassThumbnails: {
			useInvidious:   func(s settings.Settings, _ Descriptor) bool { return s.InvidiousProxyThumbnails },
			invidious:      invidiousThumbnail,
			extract:        directThumbnail,
			extractBackend: BackendDirect,
			ttl:            videoTTL,
			validate: func(d Descriptor) error {
				if !thumbnailFilePattern.MatchString(d.File) {
					return invalidf("invalid thumbnail file %q", d.File)
				}
				return requireVideoID(d)
			},
			decode: decodeAs[models.ThumbnailImage],
		},
		ClassExtract: {
			extract:  ytdlpExtract,
			attempts: 3,
			gate:     gateURL,
			ttl:      extractTTL,
			validate: requireURL,
			decode:   decodeAs[models.Video],
		},
		ClassExtractChannel: {
			extract:  ytdlpExtractChannel,
			attempts: 3,
			gate:     gateURL,
			ttl:      extractTTL,
			validate: requireURL,
			decode:   decodeAs[models.ChannelExtract],
		},
	}
}

func searchType(d Descriptor) string {
	if d.Type == "" {
		return "video"
	}
	return strings.ToLower(d.Type)
}
