package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/invidious"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

// ChannelFeed fetches the most recent uploads of a watched channel. YouTube
// channels page through Invidious when an instance is configured and fall back
// to the extractor as the fallback settings allow; other platforms always use
// the extractor against the stored channel URL. Feeds are never cached.
func (g *Gateway) ChannelFeed(ctx context.Context, ch models.WatchedChannel) (models.ChannelFeed, error) {
	s := g.settings.Current()
	logger := logging.FromContext(ctx).With("channelId", ch.ChannelID, "site", ch.Site)
	youtube := ch.IsYouTube() && extractor.IsYouTubeChannelID(ch.ChannelID)

	if youtube {
		client := g.NewInvidious(s)
		if client.Enabled() {
			feed, reason, err := g.invidiousFeed(ctx, client, s, ch)
			if err != nil {
				return models.ChannelFeed{}, err
			}
			if reason == "" {
				return feed, nil
			}
			logger.Warn("feed falling back to extractor", "reason", reason)
			g.metrics.BackendFallbacks.WithLabelValues(string(ClassChannelFeed), reason).Inc()
		}
	}
	return g.extractorFeed(ctx, s, ch, youtube)
}

// invidiousFeed returns the feed, or a non-empty fallback reason when the
// extractor should be tried instead.
func (g *Gateway) invidiousFeed(ctx context.Context, client *invidious.Client, s settings.Settings, ch models.WatchedChannel) (models.ChannelFeed, string, error) {
	items, pagination, err := client.ChannelVideosPages(ctx, ch.ChannelID, s.FeedMaxVideos)
	g.observe(ClassChannelFeed, BackendInvidious, err)
	if err != nil {
		reason, fallback := fallbackReason(s, err)
		if reason == "" && invidious.StatusCode(err) == 0 {
			reason, fallback = "invidious_error_other", s.FeedFallbackYTDLPOnError
		}
		if !fallback {
			return models.ChannelFeed{}, "", &ExtractionError{Backend: BackendInvidious, Attempts: invidiousAttempts(err), Err: err}
		}
		return models.ChannelFeed{}, reason, nil
	}
	if len(items) == 0 {
		return models.ChannelFeed{}, invidious.LimitNoVideos, nil
	}
	if pagination.Limited && pagination.LimitReason == invidious.LimitURITooLong && s.FeedFallbackYTDLPOn414 {
		return models.ChannelFeed{}, "invidious_error_414", nil
	}

	now := g.Now()
	videos := make([]models.FeedVideo, 0, len(items))
	for _, item := range normalizeInvidiousItems(items, client.BaseURL) {
		if item.VideoID == "" {
			continue
		}
		videos = append(videos, feedVideoFromItem(ch, item, now))
	}

	feed := models.ChannelFeed{
		Videos:     videos,
		Pagination: &pagination,
		Backend:    BackendInvidious,
	}
	if info, err := client.Channel(ctx, ch.ChannelID); err == nil {
		sub, verified := info.SubCount, info.AuthorVerified
		feed.Metadata = &models.ChannelMetadata{SubscriberCount: &sub, IsVerified: &verified}
	} else {
		logging.FromContext(ctx).Debug("invidious channel metadata unavailable", "channelId", ch.ChannelID, "error", err)
	}
	return feed, "", nil
}

func (g *Gateway) extractorFeed(ctx context.Context, s settings.Settings, ch models.WatchedChannel, youtube bool) (models.ChannelFeed, error) {
	target := extractor.ChannelTabURL(ch.ChannelID, "videos")
	if !youtube {
		if !extractor.ValidURL(ch.ChannelURL) {
			return models.ChannelFeed{}, invalidf("channel %q has no valid channel url", ch.ChannelID)
		}
		if err := extractor.CheckSafeURL(ctx, ch.ChannelURL, g.LookupIP); err != nil {
			return models.ChannelFeed{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		target = ch.ChannelURL
	}

	entries, err := g.extractEntries(ctx, s, target, extractor.Options{
		Flat:          s.FeedYTDLPUseFlatPlaylist,
		PlaylistItems: "1:" + strconv.Itoa(s.FeedMaxVideos),
	})
	g.observe(ClassChannelFeed, BackendYTDLP, err)
	if err != nil {
		return models.ChannelFeed{}, &ExtractionError{Backend: BackendYTDLP, Attempts: 1, Err: err}
	}

	now := g.Now()
	feed := models.ChannelFeed{Videos: make([]models.FeedVideo, 0, len(entries)), Backend: BackendYTDLP}
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		feed.Videos = append(feed.Videos, feedVideoFromInfo(ch, e, now))
	}

	if len(entries) > 0 {
		feed.Metadata = metadataFromInfo(entries[0])
	}
	if feed.Metadata == nil && youtube {
		info, err := g.extractInfo(ctx, s, target, extractor.Options{Flat: true, SingleJSON: true, PlaylistItems: "1"})
		if err == nil {
			feed.Metadata = metadataFromInfo(info)
		} else {
			logging.FromContext(ctx).Debug("channel metadata unavailable", "channelId", ch.ChannelID, "error", err)
		}
	}
	return feed, nil
}

// resolveFeed serves channel-feed descriptors through Resolve.
func (g *Gateway) resolveFeed(ctx context.Context, d Descriptor) (Result, error) {
	if d.ID == "" {
		return Result{}, invalidf("channel id cannot be empty")
	}
	feed, err := g.ChannelFeed(ctx, models.WatchedChannel{ChannelID: d.ID, Site: d.Site, ChannelURL: d.URL})
	if err != nil {
		return Result{}, err
	}
	return Result{Class: ClassChannelFeed, Backend: feed.Backend, Data: feed, Pagination: feed.Pagination}, nil
}

func metadataFromInfo(info extractor.Info) *models.ChannelMetadata {
	if info.ChannelFollowerCount == nil && !info.ChannelIsVerified {
		return nil
	}
	meta := &models.ChannelMetadata{SubscriberCount: info.ChannelFollowerCount}
	if info.ChannelIsVerified {
		verified := true
		meta.IsVerified = &verified
	}
	return meta
}

func feedVideoFromItem(ch models.WatchedChannel, item models.VideoListItem, now time.Time) models.FeedVideo {
	v := models.FeedVideo{
		ChannelID:     ch.ChannelID,
		Site:          models.SiteYouTube,
		VideoID:       item.VideoID,
		Title:         item.Title,
		Author:        item.Author,
		AuthorID:      firstNonEmpty(item.AuthorID, ch.ChannelID),
		LengthSeconds: item.LengthSeconds,
		ViewCount:     item.ViewCount,
		PublishedText: item.PublishedText,
		Thumbnails:    item.VideoThumbnails,
		VideoURL:      extractor.VideoURL(item.VideoID),
		FetchedAt:     now,
	}
	if item.Published > 0 {
		v.PublishedAt = time.Unix(item.Published, 0).UTC()
	}
	if best, ok := bestThumbnail(item.VideoThumbnails); ok {
		v.ThumbnailURL = best.URL
	}
	return v
}

func feedVideoFromInfo(ch models.WatchedChannel, info extractor.Info, now time.Time) models.FeedVideo {
	site := ch.Site
	if site == "" {
		site = models.SiteYouTube
	}
	published := info.Published()
	v := models.FeedVideo{
		ChannelID:     ch.ChannelID,
		Site:          site,
		VideoID:       info.ID,
		Title:         info.Title,
		Author:        firstNonEmpty(info.Channel, info.Uploader, ch.DisplayName),
		AuthorID:      firstNonEmpty(info.ChannelID, info.UploaderID, ch.ChannelID),
		LengthSeconds: int64(info.Duration),
		ViewCount:     info.ViewCount,
		PublishedAt:   published,
		PublishedText: publishedText(published, now),
		Thumbnails:    convertThumbnails(info.Thumbnails),
		VideoURL:      firstNonEmpty(info.URL, info.WebpageURL),
		FetchedAt:     now,
	}
	if best, ok := bestThumbnail(v.Thumbnails); ok {
		v.ThumbnailURL = best.URL
	} else if info.Thumbnail != "" {
		v.ThumbnailURL = info.Thumbnail
		v.Thumbnails = []models.Thumbnail{{Quality: "default", URL: info.Thumbnail}}
	}
	return v
}
