// Package settings holds the runtime-tunable server settings as an immutable
// snapshot that every operation reads once and never observes half-updated.
package settings

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Settings is one consistent view of every runtime knob. Values are never
// mutated after publication; Store.Update swaps in a new snapshot.
type Settings struct {
	YTDLPPath    string `json:"ytdlp_path"`
	YTDLPTimeout int    `json:"ytdlp_timeout"`

	CacheVideoTTL   int `json:"cache_video_ttl"`
	CacheSearchTTL  int `json:"cache_search_ttl"`
	CacheChannelTTL int `json:"cache_channel_ttl"`
	CacheExtractTTL int `json:"cache_extract_ttl"`

	DefaultSearchResults int `json:"default_search_results"`
	MaxSearchResults     int `json:"max_search_results"`

	InvidiousEnabled          bool    `json:"invidious_enabled"`
	InvidiousInstance         string  `json:"invidious_instance"`
	InvidiousTimeout          int     `json:"invidious_timeout"`
	InvidiousMaxRetries       int     `json:"invidious_max_retries"`
	InvidiousRetryDelay       float64 `json:"invidious_retry_delay"`
	InvidiousProxyChannels    bool    `json:"invidious_proxy_channels"`
	InvidiousProxyChannelTabs bool    `json:"invidious_proxy_channel_tabs"`
	InvidiousProxyVideos      bool    `json:"invidious_proxy_videos"`
	InvidiousProxyPlaylists   bool    `json:"invidious_proxy_playlists"`
	InvidiousProxyCaptions    bool    `json:"invidious_proxy_captions"`
	InvidiousProxyThumbnails  bool    `json:"invidious_proxy_thumbnails"`

	FeedFetchInterval        int  `json:"feed_fetch_interval"`
	FeedChannelDelay         int  `json:"feed_channel_delay"`
	FeedMaxVideos            int  `json:"feed_max_videos"`
	FeedVideoMaxAge          int  `json:"feed_video_max_age"`
	FeedYTDLPUseFlatPlaylist bool `json:"feed_ytdlp_use_flat_playlist"`
	FeedFallbackYTDLPOn414   bool `json:"feed_fallback_ytdlp_on_414"`
	FeedFallbackYTDLPOnError bool `json:"feed_fallback_ytdlp_on_error"`

	AllowAllSitesForExtraction bool `json:"allow_all_sites_for_extraction"`

	RateLimitWindow          int `json:"rate_limit_window"`
	RateLimitMaxFailures     int `json:"rate_limit_max_failures"`
	RateLimitCleanupInterval int `json:"rate_limit_cleanup_interval"`

	ProxyDownloadMaxAge         int `json:"proxy_download_max_age"`
	ProxyMaxConcurrentDownloads int `json:"proxy_max_concurrent_downloads"`
}

// Defaults returns the settings a fresh installation starts with.
func Defaults() Settings {
	return Settings{
		YTDLPPath:    "yt-dlp",
		YTDLPTimeout: 120,

		CacheVideoTTL:   3600,
		CacheSearchTTL:  900,
		CacheChannelTTL: 1800,
		CacheExtractTTL: 900,

		DefaultSearchResults: 20,
		MaxSearchResults:     50,

		InvidiousEnabled:          true,
		InvidiousTimeout:          10,
		InvidiousMaxRetries:       3,
		InvidiousRetryDelay:       1.0,
		InvidiousProxyChannels:    true,
		InvidiousProxyChannelTabs: true,
		InvidiousProxyVideos:      true,
		InvidiousProxyPlaylists:   true,
		InvidiousProxyCaptions:    true,
		InvidiousProxyThumbnails:  true,

		FeedFetchInterval:        1800,
		FeedChannelDelay:         2,
		FeedMaxVideos:            30,
		FeedVideoMaxAge:          30,
		FeedYTDLPUseFlatPlaylist: true,
		FeedFallbackYTDLPOn414:   false,
		FeedFallbackYTDLPOnError: true,

		RateLimitWindow:          60,
		RateLimitMaxFailures:     5,
		RateLimitCleanupInterval: 300,

		ProxyDownloadMaxAge:         86400,
		ProxyMaxConcurrentDownloads: 3,
	}
}

// Normalize clamps every numeric field into its supported range and trims
// free-form strings. Zero values fall back to the defaults.
func (s Settings) Normalize() Settings {
	d := Defaults()

	s.YTDLPPath = strings.TrimSpace(s.YTDLPPath)
	if s.YTDLPPath == "" {
		s.YTDLPPath = d.YTDLPPath
	}
	s.YTDLPTimeout = clamp(s.YTDLPTimeout, d.YTDLPTimeout, 10, 600)

	s.CacheVideoTTL = clamp(s.CacheVideoTTL, d.CacheVideoTTL, 60, 86400)
	s.CacheSearchTTL = clamp(s.CacheSearchTTL, d.CacheSearchTTL, 60, 7200)
	s.CacheChannelTTL = clamp(s.CacheChannelTTL, d.CacheChannelTTL, 60, 86400)
	s.CacheExtractTTL = clamp(s.CacheExtractTTL, d.CacheExtractTTL, 60, 7200)

	s.DefaultSearchResults = clamp(s.DefaultSearchResults, d.DefaultSearchResults, 5, 50)
	s.MaxSearchResults = clamp(s.MaxSearchResults, d.MaxSearchResults, 10, 100)

	s.InvidiousInstance = strings.TrimRight(strings.TrimSpace(s.InvidiousInstance), "/")
	s.InvidiousTimeout = clamp(s.InvidiousTimeout, d.InvidiousTimeout, 5, 60)
	s.InvidiousMaxRetries = clamp(s.InvidiousMaxRetries, d.InvidiousMaxRetries, 1, 10)
	if s.InvidiousRetryDelay == 0 {
		s.InvidiousRetryDelay = d.InvidiousRetryDelay
	}
	s.InvidiousRetryDelay = min(max(s.InvidiousRetryDelay, 0.5), 30)

	s.FeedFetchInterval = clamp(s.FeedFetchInterval, d.FeedFetchInterval, 300, 86400)
	s.FeedChannelDelay = clamp(s.FeedChannelDelay, d.FeedChannelDelay, 1, 30)
	s.FeedMaxVideos = clamp(s.FeedMaxVideos, d.FeedMaxVideos, 10, 100)
	s.FeedVideoMaxAge = clamp(s.FeedVideoMaxAge, d.FeedVideoMaxAge, 1, 365)

	s.RateLimitWindow = clamp(s.RateLimitWindow, d.RateLimitWindow, 10, 600)
	s.RateLimitMaxFailures = clamp(s.RateLimitMaxFailures, d.RateLimitMaxFailures, 1, 100)
	s.RateLimitCleanupInterval = clamp(s.RateLimitCleanupInterval, d.RateLimitCleanupInterval, 60, 3600)

	s.ProxyDownloadMaxAge = clamp(s.ProxyDownloadMaxAge, d.ProxyDownloadMaxAge, 60, 604800)
	s.ProxyMaxConcurrentDownloads = clamp(s.ProxyMaxConcurrentDownloads, d.ProxyMaxConcurrentDownloads, 1, 20)

	return s
}

// Validate rejects values that cannot be clamped into something usable.
func (s Settings) Validate() error {
	if s.InvidiousInstance == "" {
		return nil
	}
	u, err := url.Parse(s.InvidiousInstance)
	if err != nil {
		return fmt.Errorf("invidious_instance: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invidious_instance: %q must be an absolute http(s) URL", s.InvidiousInstance)
	}
	return nil
}

// InvidiousConfigured reports whether an Invidious instance may be called at all.
func (s Settings) InvidiousConfigured() bool {
	return s.InvidiousEnabled && s.InvidiousInstance != ""
}

// YTDLPTimeoutDuration bounds a single extractor invocation.
func (s Settings) YTDLPTimeoutDuration() time.Duration {
	return seconds(s.YTDLPTimeout)
}

// InvidiousTimeoutDuration bounds a single Invidious HTTP attempt.
func (s Settings) InvidiousTimeoutDuration() time.Duration {
	return seconds(s.InvidiousTimeout)
}

// InvidiousRetryBase is the first backoff delay between Invidious attempts.
func (s Settings) InvidiousRetryBase() time.Duration {
	return time.Duration(s.InvidiousRetryDelay * float64(time.Second))
}

// FeedInterval is the pause between background feed cycles.
func (s Settings) FeedInterval() time.Duration {
	return seconds(s.FeedFetchInterval)
}

// FeedDelay is the minimum spacing between two channel fetches in a cycle.
func (s Settings) FeedDelay() time.Duration {
	return seconds(s.FeedChannelDelay)
}

// FeedMaxAge is the oldest publication age kept in the feed store.
func (s Settings) FeedMaxAge() time.Duration {
	return time.Duration(s.FeedVideoMaxAge) * 24 * time.Hour
}

// RateLimitWindowDuration is the sliding window of the failed-auth tracker.
func (s Settings) RateLimitWindowDuration() time.Duration {
	return seconds(s.RateLimitWindow)
}

// RateLimitCleanupDuration is how often the failed-auth tracker is swept.
func (s Settings) RateLimitCleanupDuration() time.Duration {
	return seconds(s.RateLimitCleanupInterval)
}

// ProxyMaxAge is how long a staged proxy download may stay on disk.
func (s Settings) ProxyMaxAge() time.Duration {
	return seconds(s.ProxyDownloadMaxAge)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func clamp(v, fallback, lo, hi int) int {
	if v == 0 {
		v = fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
