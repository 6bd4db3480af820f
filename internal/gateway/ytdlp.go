package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

const (
	channelPageSize       = 30
	channelSearchPageSize = 20
	maxThumbnailBytes     = 10 << 20
)

// ThumbnailHost serves YouTube thumbnails when no Invidious instance is used.
var ThumbnailHost = "https://i.ytimg.com"

func ytdlpVideo(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	info, err := g.extractInfo(ctx, s, extractor.VideoURL(d.ID), extractor.Options{NoPlaylist: true})
	if err != nil {
		return nil, err
	}
	return videoFromInfo(info, g.Now()), nil
}

// channelURL is the page of tab for YouTube ids, or the stored channel URL of
// another platform.
func channelURL(d Descriptor, tab string) string {
	if extractor.IsYouTubeChannelID(d.ID) {
		return extractor.ChannelTabURL(d.ID, tab)
	}
	return d.URL
}

func ytdlpChannel(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	info, err := g.extractInfo(ctx, s, channelURL(d, "videos"), extractor.Options{
		Flat:          true,
		SingleJSON:    true,
		PlaylistItems: "1",
	})
	if err != nil {
		return nil, err
	}
	ch := models.Channel{
		AuthorID:         firstNonEmpty(info.ChannelID, info.UploaderID, info.ID),
		Author:           firstNonEmpty(info.Channel, info.Uploader, info.PlaylistChannel, info.Title),
		Description:      info.Description,
		AuthorVerified:   info.ChannelIsVerified,
		AuthorThumbnails: authorThumbnail(info),
		AuthorBanners:    []models.Thumbnail{},
	}
	if info.ChannelFollowerCount != nil {
		ch.SubCount = *info.ChannelFollowerCount
	}
	if extractor.IsYouTubeChannelID(d.ID) {
		if thumbs := g.invidiousAvatar(ctx, s, d.ID); len(thumbs) > 0 {
			ch.AuthorThumbnails = thumbs
		}
	}
	if ch.AuthorThumbnails == nil {
		ch.AuthorThumbnails = []models.Thumbnail{}
	}
	return ch, nil
}

// invidiousAvatar borrows channel avatars from Invidious when an instance is
// configured, since flat channel listings carry none. Failures are ignored.
func (g *Gateway) invidiousAvatar(ctx context.Context, s settings.Settings, channelID string) []models.Thumbnail {
	client := g.NewInvidious(s)
	if !client.Enabled() {
		return nil
	}
	ch, err := client.Channel(ctx, channelID)
	if err != nil {
		logging.FromContext(ctx).Debug("invidious avatar lookup failed", "channelId", channelID, "error", err)
		return nil
	}
	return resolveThumbnails(ch.AuthorThumbnails, client.BaseURL)
}

// channelEntries lists one page of a channel tab. Listings of other platforms
// are extracted in full since their flat entries lack metadata.
func (g *Gateway) channelEntries(ctx context.Context, s settings.Settings, target string, page, perPage int, flat bool) ([]extractor.Info, error) {
	entries, err := g.extractEntries(ctx, s, target, extractor.Options{
		Flat:          flat,
		PlaylistItems: extractor.PageItems(page, perPage),
	})
	if errors.Is(err, extractor.ErrNoResults) {
		return nil, nil
	}
	return entries, err
}

func ytdlpChannelVideos(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	return g.channelTabPage(ctx, s, d, "videos")
}

func ytdlpChannelTab(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	return g.channelTabPage(ctx, s, d, d.Tab)
}

func (g *Gateway) channelTabPage(ctx context.Context, s settings.Settings, d Descriptor, tab string) (models.ChannelVideos, error) {
	page := pageNumber(d)
	entries, err := g.channelEntries(ctx, s, channelURL(d, tab), page, channelPageSize, extractor.IsYouTubeChannelID(d.ID))
	if err != nil {
		return models.ChannelVideos{}, err
	}
	out := models.ChannelVideos{Videos: listItemsFromEntries(entries, g.Now())}
	if len(out.Videos) > 0 {
		out.Continuation = strconv.Itoa(page + 1)
	}
	return out, nil
}

func ytdlpChannelPlaylists(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	page := pageNumber(d)
	entries, err := g.channelEntries(ctx, s, channelURL(d, "playlists"), page, channelPageSize, true)
	if err != nil {
		return nil, err
	}
	out := models.ChannelPlaylists{Playlists: make([]models.PlaylistListItem, 0, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		out.Playlists = append(out.Playlists, playlistItemFromInfo(e))
	}
	if len(out.Playlists) > 0 {
		out.Continuation = strconv.Itoa(page + 1)
	}
	return out, nil
}

func ytdlpChannelSearch(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	page := pageNumber(d)
	youtube := extractor.IsYouTubeChannelID(d.ID)
	target := extractor.ChannelSearchURL(d.ID, d.Query)
	if !youtube {
		target = extractor.ChannelSearchURL(d.URL, d.Query)
	}
	entries, err := g.channelEntries(ctx, s, target, page, channelSearchPageSize, youtube)
	if err != nil {
		if !youtube {
			return nil, fmt.Errorf("%w: channel search is not supported for %s: %w", ErrBackendUnavailable, d.URL, err)
		}
		return nil, err
	}
	out := models.ChannelVideos{Videos: []models.VideoListItem{}}
	for _, e := range entries {
		if e.ID == "" || e.Type == "playlist" || (youtube && !extractor.ValidVideoID(e.ID)) {
			continue
		}
		out.Videos = append(out.Videos, listItemFromInfo(e, g.Now()))
	}
	if len(out.Videos) > 0 {
		out.Continuation = strconv.Itoa(page + 1)
	}
	return out, nil
}

func ytdlpPlaylist(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	info, err := g.extractInfo(ctx, s, extractor.PlaylistURL(d.ID), extractor.Options{Flat: true, SingleJSON: true})
	if err != nil {
		return nil, err
	}
	p := models.Playlist{
		PlaylistID:  firstNonEmpty(info.ID, d.ID),
		Title:       info.Title,
		Description: info.Description,
		Author:      firstNonEmpty(info.Uploader, info.Channel, info.PlaylistUploader),
		AuthorID:    firstNonEmpty(info.ChannelID, info.UploaderID),
		VideoCount:  info.PlaylistCount,
		Videos:      listItemsFromEntries(info.Entries, g.Now()),
	}
	if p.VideoCount == 0 {
		p.VideoCount = int64(len(p.Videos))
	}
	return p, nil
}

// ytdlpSearch fetches every result up to the requested page and returns the
// last page of them; the extractor cannot start a search at an offset.
func ytdlpSearch(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	page := max(d.Page, 1)
	perPage := s.DefaultSearchResults
	count := min(page*perPage, s.MaxSearchResults)

	target := fmt.Sprintf("ytsearch%d:%s", count, d.Query)
	opts := extractor.Options{Flat: true}
	if sp := extractor.SearchFilter(d.Sort, d.Date, d.Duration); sp != "" {
		target = extractor.SearchURL(d.Query, sp)
		opts.PlaylistItems = fmt.Sprintf("1:%d", count)
	}

	entries, err := g.extractEntries(ctx, s, target, opts)
	if errors.Is(err, extractor.ErrNoResults) {
		return []models.SearchResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	start := (page - 1) * perPage
	if start >= len(entries) {
		return []models.SearchResult{}, nil
	}
	entries = entries[start:min(start+perPage, len(entries))]

	results := make([]models.SearchResult, 0, len(entries))
	for _, item := range listItemsFromEntries(entries, g.Now()) {
		results = append(results, models.SearchResult{Video: &item})
	}
	return results, nil
}

func ytdlpCaptions(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	info, err := g.extractInfo(ctx, s, extractor.VideoURL(d.ID), extractor.Options{NoPlaylist: true})
	if err != nil {
		return nil, err
	}
	return models.Captions{Captions: convertCaptions(d.ID, info.Subtitles, info.AutomaticCaptions)}, nil
}

func ytdlpExtract(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	info, err := g.extractInfo(ctx, s, d.URL, extractor.Options{NoPlaylist: true})
	if err != nil {
		return nil, err
	}
	v := videoFromInfo(info, g.Now())
	if v.OriginalURL == "" {
		v.OriginalURL = d.URL
	}
	return v, nil
}

func ytdlpExtractChannel(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	page := pageNumber(d)
	entries, err := g.channelEntries(ctx, s, d.URL, page, channelPageSize, false)
	if err != nil {
		return nil, err
	}
	out := models.ChannelExtract{
		AuthorURL: d.URL,
		Extractor: "generic",
		Videos:    listItemsFromEntries(entries, g.Now()),
	}
	if len(entries) > 0 {
		first := entries[0]
		out.Author = firstNonEmpty(first.Uploader, first.Channel)
		out.AuthorID = firstNonEmpty(first.UploaderID, first.ChannelID)
		out.Extractor = firstNonEmpty(first.ExtractorKey, "generic")
	}
	if len(out.Videos) >= channelPageSize {
		out.Continuation = strconv.Itoa(page + 1)
	}
	return out, nil
}

// directThumbnail fetches the image from YouTube's image host.
func directThumbnail(ctx context.Context, g *Gateway, s settings.Settings, d Descriptor) (any, error) {
	target := fmt.Sprintf("%s/vi/%s/%s", strings.TrimRight(ThumbnailHost, "/"), url.PathEscape(d.ID), url.PathEscape(d.File))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build thumbnail request: %w", err)
	}
	client := &http.Client{Timeout: s.InvidiousTimeoutDuration(), Transport: g.transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("thumbnail %s/%s: %w", d.ID, d.File, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch thumbnail: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbnailBytes))
	if err != nil {
		return nil, fmt.Errorf("read thumbnail: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return models.ThumbnailImage{ContentType: contentType, Data: body}, nil
}
