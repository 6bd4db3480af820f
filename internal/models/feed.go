package models

import (
	"strings"
	"time"
)

// FetchStatus is the outcome of the last background fetch of a channel.
type FetchStatus string

const (
	FetchStatusPending FetchStatus = "pending"
	FetchStatusOK      FetchStatus = "ok"
	FetchStatusError   FetchStatus = "error"
)

// SiteYouTube is the site name used for YouTube channels.
const SiteYouTube = "youtube"

// WatchedChannel is a channel some client asked the server to keep fresh.
type WatchedChannel struct {
	ChannelID          string
	Site               string
	DisplayName        string
	ChannelURL         string
	AvatarURL          string
	LastRequestedAt    time.Time
	LastFetchAt        *time.Time
	LastFetchStatus    FetchStatus
	LastError          string
	LastVideoPublished *time.Time
	SubscriberCount    *int64
	IsVerified         bool
	VideosFetched      int
	PaginationLimited  bool
	LimitReason        string
}

// IsYouTube reports whether the channel lives on YouTube.
func (c WatchedChannel) IsYouTube() bool {
	return c.Site == "" || strings.EqualFold(c.Site, SiteYouTube)
}

// FeedVideo is a cached recent upload of a watched channel.
type FeedVideo struct {
	ChannelID     string
	Site          string
	VideoID       string
	Title         string
	Author        string
	AuthorID      string
	LengthSeconds int64
	ViewCount     int64
	PublishedAt   time.Time
	PublishedText string
	ThumbnailURL  string
	Thumbnails    []Thumbnail
	VideoURL      string
	FetchedAt     time.Time
}

// ListItem renders the cached video in the list shape clients consume.
func (v FeedVideo) ListItem() VideoListItem {
	item := VideoListItem{
		Type:            "video",
		VideoID:         v.VideoID,
		Title:           v.Title,
		Author:          v.Author,
		AuthorID:        v.AuthorID,
		LengthSeconds:   v.LengthSeconds,
		PublishedText:   v.PublishedText,
		ViewCount:       v.ViewCount,
		VideoThumbnails: v.Thumbnails,
		VideoURL:        v.VideoURL,
	}
	if !v.PublishedAt.IsZero() {
		item.Published = v.PublishedAt.Unix()
	}
	if item.VideoThumbnails == nil {
		item.VideoThumbnails = []Thumbnail{}
		if v.ThumbnailURL != "" {
			item.VideoThumbnails = append(item.VideoThumbnails, Thumbnail{Quality: "default", URL: v.ThumbnailURL})
		}
	}
	if !strings.EqualFold(v.Site, SiteYouTube) && v.Site != "" {
		item.Extractor = v.Site
	}
	return item
}

// FetchPagination describes how far a multi-page channel fetch got.
type FetchPagination struct {
	TotalFetched int
	Limited      bool
	LimitReason  string
}

// ChannelMetadata is optional channel information discovered while fetching.
type ChannelMetadata struct {
	SubscriberCount *int64
	IsVerified      *bool
}

// ChannelFeed is the result of fetching a channel's recent uploads.
type ChannelFeed struct {
	Videos     []FeedVideo
	Pagination *FetchPagination
	Metadata   *ChannelMetadata
	Backend    string
}
