package gateway

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/yattee/server/internal/invidious"
	"github.com/yattee/server/internal/models"
)

func invidiousVideo(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	v, err := c.Video(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	// Invidious cannot serve live streams; the extractor returns the HLS manifest.
	if v.LiveNow {
		return nil, errUseExtractor
	}
	return normalizeInvidiousVideo(v, c.BaseURL), nil
}

func invidiousChannel(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	ch, err := c.Channel(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	ch.AuthorThumbnails = resolveThumbnails(ch.AuthorThumbnails, c.BaseURL)
	ch.AuthorBanners = resolveThumbnails(ch.AuthorBanners, c.BaseURL)
	return ch, nil
}

func invidiousChannelVideos(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	page, err := c.ChannelVideos(ctx, d.ID, d.Continuation)
	if err != nil {
		return nil, err
	}
	page.Videos = normalizeInvidiousItems(page.Videos, c.BaseURL)
	return page, nil
}

func invidiousChannelTab(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	page, err := c.ChannelTab(ctx, d.ID, d.Tab, d.Continuation)
	if err != nil {
		return nil, err
	}
	page.Videos = normalizeInvidiousItems(page.Videos, c.BaseURL)
	return page, nil
}

func invidiousChannelPlaylists(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	page, err := c.ChannelPlaylists(ctx, d.ID, d.Continuation)
	if err != nil {
		return nil, err
	}
	playlists := make([]models.PlaylistListItem, 0, len(page.Playlists))
	for _, p := range page.Playlists {
		playlists = append(playlists, normalizeInvidiousPlaylistItem(p, c.BaseURL))
	}
	page.Playlists = playlists
	return page, nil
}

// invidiousChannelSearch keeps only videos so both backends answer with the
// same page shape; the continuation is the next page number.
func invidiousChannelSearch(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	page := pageNumber(d)
	results, err := c.ChannelSearch(ctx, d.ID, d.Query, page)
	if err != nil {
		return nil, err
	}
	out := models.ChannelVideos{Videos: []models.VideoListItem{}}
	for _, r := range normalizeInvidiousResults(results, c.BaseURL) {
		if r.Video != nil {
			out.Videos = append(out.Videos, *r.Video)
		}
	}
	if len(results) > 0 {
		out.Continuation = strconv.Itoa(page + 1)
	}
	return out, nil
}

func invidiousPlaylist(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	p, err := c.Playlist(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	p.Videos = normalizeInvidiousItems(p.Videos, c.BaseURL)
	return p, nil
}

func invidiousSearch(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	filters := url.Values{}
	for k, v := range map[string]string{"sort": d.Sort, "date": d.Date, "duration": d.Duration} {
		if v != "" {
			filters.Set(k, v)
		}
	}
	results, err := c.Search(ctx, d.Query, searchType(d), max(d.Page, 1), filters)
	if err != nil {
		return nil, err
	}
	return normalizeInvidiousResults(results, c.BaseURL), nil
}

func invidiousSuggestions(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	return c.SearchSuggestions(ctx, d.Query)
}

func invidiousTrending(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	region := strings.ToUpper(d.Region)
	if region == "" {
		region = "US"
	}
	videos, err := c.Trending(ctx, region)
	if err != nil {
		return nil, err
	}
	return normalizeInvidiousItems(videos, c.BaseURL), nil
}

func invidiousPopular(ctx context.Context, c *invidious.Client, _ Descriptor) (any, error) {
	videos, err := c.Popular(ctx)
	if err != nil {
		return nil, err
	}
	return normalizeInvidiousItems(videos, c.BaseURL), nil
}

func invidiousComments(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	comments, err := c.Comments(ctx, d.ID, d.Continuation)
	if err != nil {
		return nil, err
	}
	if comments.Comments == nil {
		comments.Comments = []models.Comment{}
	}
	for i := range comments.Comments {
		comments.Comments[i].AuthorThumbnails = resolveThumbnails(comments.Comments[i].AuthorThumbnails, c.BaseURL)
	}
	return comments, nil
}

func invidiousCaptions(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	captions, err := c.Captions(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	captions.Captions = normalizeInvidiousCaptions(d.ID, captions.Captions, c.BaseURL)
	return captions, nil
}

func invidiousStoryboards(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	boards, err := c.Storyboards(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	boards.Storyboards = resolveStoryboards(boards.Storyboards, c.BaseURL)
	return boards, nil
}

func invidiousThumbnail(ctx context.Context, c *invidious.Client, d Descriptor) (any, error) {
	return c.Thumbnail(ctx, d.ID, d.File)
}

// pageNumber is the 1-based page of d, taken from a numeric continuation when present.
func pageNumber(d Descriptor) int {
	if n, err := strconv.Atoi(d.Continuation); err == nil && n > 0 {
		return n
	}
	return max(d.Page, 1)
}
