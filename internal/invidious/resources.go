package invidious

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
)

// Limit reasons reported by ChannelVideosPages.
const (
	LimitURITooLong     = "414_error"
	LimitNoData         = "no_data"
	LimitNoVideos       = "no_videos"
	LimitNoContinuation = "no_continuation"
	LimitMaxReached     = "max_reached"
)

// Video returns the detail document of a video.
func (c *Client) Video(ctx context.Context, id string) (models.Video, error) {
	var v models.Video
	err := c.FetchJSON(ctx, "/api/v1/videos/"+url.PathEscape(id), &v)
	return v, err
}

// Channel returns channel metadata.
func (c *Client) Channel(ctx context.Context, id string) (models.Channel, error) {
	var ch models.Channel
	err := c.FetchJSON(ctx, "/api/v1/channels/"+url.PathEscape(id), &ch)
	return ch, err
}

// ChannelVideos returns one page of a channel's uploads.
func (c *Client) ChannelVideos(ctx context.Context, id, continuation string) (models.ChannelVideos, error) {
	return c.ChannelTab(ctx, id, "videos", continuation)
}

// ChannelTab returns one page of the videos, shorts or streams tab.
func (c *Client) ChannelTab(ctx context.Context, id, tab, continuation string) (models.ChannelVideos, error) {
	var page models.ChannelVideos
	err := c.FetchJSON(ctx, channelTabEndpoint(id, tab, continuation), &page)
	return page, err
}

// ChannelPlaylists returns one page of a channel's playlists.
func (c *Client) ChannelPlaylists(ctx context.Context, id, continuation string) (models.ChannelPlaylists, error) {
	var page models.ChannelPlaylists
	err := c.FetchJSON(ctx, channelTabEndpoint(id, "playlists", continuation), &page)
	return page, err
}

// ChannelSearch searches within one channel.
func (c *Client) ChannelSearch(ctx context.Context, id, query string, page int) ([]models.SearchResult, error) {
	q := url.Values{"q": {query}, "page": {strconv.Itoa(max(page, 1))}}
	var results []models.SearchResult
	err := c.FetchJSON(ctx, "/api/v1/channels/"+url.PathEscape(id)+"/search?"+q.Encode(), &results)
	return results, err
}

// ChannelVideosPages follows continuations until maxVideos uploads are
// collected or the instance stops paging. Continuation tokens grow with every
// page; a 414 ends paging with whatever was collected and is not an error.
func (c *Client) ChannelVideosPages(ctx context.Context, id string, maxVideos int) ([]models.VideoListItem, models.FetchPagination, error) {
	logger := logging.FromContext(ctx)
	var (
		videos       []models.VideoListItem
		continuation string
		pages        int
		result       models.FetchPagination
	)

	for len(videos) < maxVideos {
		pages++
		page, err := c.ChannelVideos(ctx, id, continuation)
		if err != nil {
			if StatusCode(err) == 414 {
				logger.Warn("invidious pagination stopped by URI length",
					"channelId", id,
					"page", pages,
					"continuationLength", len(continuation),
					"videos", len(videos),
				)
				result.Limited = true
				result.LimitReason = LimitURITooLong
				break
			}
			return nil, result, err
		}
		if page.Videos == nil {
			result.LimitReason = LimitNoData
			break
		}
		if len(page.Videos) == 0 {
			result.LimitReason = LimitNoVideos
			break
		}
		videos = append(videos, page.Videos...)

		if page.Continuation == "" {
			result.LimitReason = LimitNoContinuation
			break
		}
		continuation = page.Continuation
	}

	result.TotalFetched = len(videos)
	if len(videos) >= maxVideos {
		result.LimitReason = LimitMaxReached
		videos = videos[:maxVideos]
	}
	logger.Debug("invidious channel pages fetched",
		"channelId", id,
		"pages", pages,
		"videos", result.TotalFetched,
		"reason", result.LimitReason,
	)
	return videos, result, nil
}

// Playlist returns playlist metadata and its first page of videos.
func (c *Client) Playlist(ctx context.Context, id string) (models.Playlist, error) {
	var p models.Playlist
	err := c.FetchJSON(ctx, "/api/v1/playlists/"+url.PathEscape(id), &p)
	return p, err
}

// Search runs a search of the given type (video, channel, playlist, all).
func (c *Client) Search(ctx context.Context, query, kind string, page int, filters url.Values) ([]models.SearchResult, error) {
	q := url.Values{}
	for k, v := range filters {
		q[k] = v
	}
	q.Set("q", query)
	if kind != "" {
		q.Set("type", kind)
	}
	q.Set("page", strconv.Itoa(max(page, 1)))

	var results []models.SearchResult
	err := c.FetchJSON(ctx, "/api/v1/search?"+q.Encode(), &results)
	return results, err
}

// SearchSuggestions returns autocomplete suggestions for query.
func (c *Client) SearchSuggestions(ctx context.Context, query string) (models.SearchSuggestions, error) {
	var s models.SearchSuggestions
	err := c.FetchJSON(ctx, "/api/v1/search/suggestions?"+url.Values{"q": {query}}.Encode(), &s)
	if s.Suggestions == nil {
		s.Suggestions = []string{}
	}
	if s.Query == "" {
		s.Query = query
	}
	return s, err
}

// Trending returns trending videos for region.
func (c *Client) Trending(ctx context.Context, region string) ([]models.VideoListItem, error) {
	endpoint := "/api/v1/trending"
	if region != "" {
		endpoint += "?" + url.Values{"region": {region}}.Encode()
	}
	var videos []models.VideoListItem
	err := c.FetchJSON(ctx, endpoint, &videos)
	return videos, err
}

// Popular returns the instance's popular videos.
func (c *Client) Popular(ctx context.Context) ([]models.VideoListItem, error) {
	var videos []models.VideoListItem
	err := c.FetchJSON(ctx, "/api/v1/popular", &videos)
	return videos, err
}

// Comments returns one page of top-level comments.
func (c *Client) Comments(ctx context.Context, videoID, continuation string) (models.Comments, error) {
	endpoint := "/api/v1/comments/" + url.PathEscape(videoID)
	if continuation != "" {
		endpoint += "?" + url.Values{"continuation": {continuation}}.Encode()
	}
	var comments models.Comments
	err := c.FetchJSON(ctx, endpoint, &comments)
	return comments, err
}

// Captions lists caption tracks through the companion service.
func (c *Client) Captions(ctx context.Context, videoID string) (models.Captions, error) {
	var captions models.Captions
	err := c.FetchJSON(ctx, "/companion/api/v1/captions/"+url.PathEscape(videoID), &captions)
	return captions, err
}

// Storyboards lists preview sprite sheets for a video.
func (c *Client) Storyboards(ctx context.Context, videoID string) (models.Storyboards, error) {
	var boards models.Storyboards
	err := c.FetchJSON(ctx, "/api/v1/storyboards/"+url.PathEscape(videoID), &boards)
	return boards, err
}

// Thumbnail fetches image bytes from the instance's /vi/ passthrough.
func (c *Client) Thumbnail(ctx context.Context, videoID, file string) (models.ThumbnailImage, error) {
	body, contentType, err := c.FetchRaw(ctx, fmt.Sprintf("/vi/%s/%s", url.PathEscape(videoID), url.PathEscape(file)))
	if err != nil {
		return models.ThumbnailImage{}, err
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return models.ThumbnailImage{ContentType: contentType, Data: body}, nil
}

func channelTabEndpoint(id, tab, continuation string) string {
	endpoint := "/api/v1/channels/" + url.PathEscape(id) + "/" + url.PathEscape(tab)
	if continuation != "" {
		endpoint += "?" + url.Values{"continuation": {continuation}}.Encode()
	}
	return endpoint
}
