package models

import (
	"encoding/json"
	"fmt"
)

// Thumbnail is a sized image reference using Invidious quality names.
type Thumbnail struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// FormatStream is a muxed audio and video stream.
type FormatStream struct {
	URL         string            `json:"url"`
	Itag        string            `json:"itag"`
	Type        string            `json:"type"`
	Quality     string            `json:"quality"`
	Container   string            `json:"container"`
	Resolution  string            `json:"resolution,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	Encoding    string            `json:"encoding,omitempty"`
	Size        string            `json:"size,omitempty"`
	FPS         int               `json:"fps,omitempty"`
	HTTPHeaders map[string]string `json:"httpHeaders,omitempty"`
}

// AudioTrack describes a dubbed or original audio track of an adaptive format.
type AudioTrack struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsDefault   bool   `json:"isDefault"`
}

// AdaptiveFormat is a video-only or audio-only stream.
type AdaptiveFormat struct {
	URL          string            `json:"url"`
	Itag         string            `json:"itag"`
	Type         string            `json:"type"`
	Container    string            `json:"container"`
	Resolution   string            `json:"resolution,omitempty"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	Bitrate      string            `json:"bitrate,omitempty"`
	Clen         string            `json:"clen,omitempty"`
	Encoding     string            `json:"encoding,omitempty"`
	FPS          int               `json:"fps,omitempty"`
	AudioTrack   *AudioTrack       `json:"audioTrack,omitempty"`
	AudioQuality string            `json:"audioQuality,omitempty"`
	HTTPHeaders  map[string]string `json:"httpHeaders,omitempty"`
}

// Caption is a subtitle track.
type Caption struct {
	Label         string `json:"label"`
	LanguageCode  string `json:"languageCode"`
	URL           string `json:"url"`
	AutoGenerated bool   `json:"auto_generated"`
}

// Captions wraps the caption list returned for a video.
type Captions struct {
	Captions []Caption `json:"captions"`
}

// Storyboard describes a sprite sheet of preview frames.
type Storyboard struct {
	URL              string `json:"url"`
	TemplateURL      string `json:"templateUrl"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Count            int    `json:"count"`
	Interval         int    `json:"interval"`
	StoryboardWidth  int    `json:"storyboardWidth"`
	StoryboardHeight int    `json:"storyboardHeight"`
	StoryboardCount  int    `json:"storyboardCount"`
}

// Storyboards wraps the storyboard list returned for a video.
type Storyboards struct {
	Storyboards []Storyboard `json:"storyboards"`
}

// Video is the full detail response for a single video.
type Video struct {
	VideoID           string           `json:"videoId"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	DescriptionHTML   string           `json:"descriptionHtml,omitempty"`
	Author            string           `json:"author"`
	AuthorID          string           `json:"authorId"`
	AuthorURL         string           `json:"authorUrl,omitempty"`
	AuthorThumbnails  []Thumbnail      `json:"authorThumbnails,omitempty"`
	SubCountText      string           `json:"subCountText,omitempty"`
	LengthSeconds     int64            `json:"lengthSeconds"`
	Published         int64            `json:"published,omitempty"`
	PublishedText     string           `json:"publishedText,omitempty"`
	ViewCount         int64            `json:"viewCount,omitempty"`
	LikeCount         int64            `json:"likeCount,omitempty"`
	VideoThumbnails   []Thumbnail      `json:"videoThumbnails"`
	LiveNow           bool             `json:"liveNow"`
	IsUpcoming        bool             `json:"isUpcoming"`
	PremiereTimestamp int64            `json:"premiereTimestamp,omitempty"`
	HLSURL            string           `json:"hlsUrl,omitempty"`
	DashURL           string           `json:"dashUrl,omitempty"`
	FormatStreams     []FormatStream   `json:"formatStreams"`
	AdaptiveFormats   []AdaptiveFormat `json:"adaptiveFormats"`
	Captions          []Caption        `json:"captions"`
	Storyboards       []Storyboard     `json:"storyboards"`
	Extractor         string           `json:"extractor,omitempty"`
	OriginalURL       string           `json:"originalUrl,omitempty"`
	RecommendedVideos []VideoListItem  `json:"recommendedVideos,omitempty"`
}

// VideoListItem is a video entry in search, channel, playlist and feed results.
type VideoListItem struct {
	Type            string      `json:"type"`
	VideoID         string      `json:"videoId"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Author          string      `json:"author"`
	AuthorID        string      `json:"authorId"`
	AuthorURL       string      `json:"authorUrl,omitempty"`
	LengthSeconds   int64       `json:"lengthSeconds"`
	Published       int64       `json:"published,omitempty"`
	PublishedText   string      `json:"publishedText,omitempty"`
	ViewCount       int64       `json:"viewCount,omitempty"`
	ViewCountText   string      `json:"viewCountText,omitempty"`
	LikeCount       int64       `json:"likeCount,omitempty"`
	VideoThumbnails []Thumbnail `json:"videoThumbnails"`
	LiveNow         bool        `json:"liveNow"`
	IsUpcoming      bool        `json:"isUpcoming"`
	Extractor       string      `json:"extractor,omitempty"`
	VideoURL        string      `json:"videoUrl,omitempty"`
}

// ChannelListItem is a channel entry in search results.
type ChannelListItem struct {
	Type             string      `json:"type"`
	AuthorID         string      `json:"authorId"`
	Author           string      `json:"author"`
	Description      string      `json:"description,omitempty"`
	SubCount         int64       `json:"subCount,omitempty"`
	SubCountText     string      `json:"subCountText,omitempty"`
	VideoCount       int64       `json:"videoCount,omitempty"`
	AuthorThumbnails []Thumbnail `json:"authorThumbnails"`
	AuthorVerified   bool        `json:"authorVerified"`
}

// PlaylistListItem is a playlist entry in search and channel results.
type PlaylistListItem struct {
	Type              string          `json:"type"`
	PlaylistID        string          `json:"playlistId"`
	Title             string          `json:"title"`
	Author            string          `json:"author,omitempty"`
	AuthorID          string          `json:"authorId,omitempty"`
	VideoCount        int64           `json:"videoCount"`
	PlaylistThumbnail string          `json:"playlistThumbnail,omitempty"`
	Videos            []VideoListItem `json:"videos"`
}

// Channel is the channel detail response.
type Channel struct {
	AuthorID         string      `json:"authorId"`
	Author           string      `json:"author"`
	Description      string      `json:"description,omitempty"`
	SubCount         int64       `json:"subCount,omitempty"`
	TotalViews       int64       `json:"totalViews,omitempty"`
	AuthorThumbnails []Thumbnail `json:"authorThumbnails"`
	AuthorBanners    []Thumbnail `json:"authorBanners"`
	AuthorVerified   bool        `json:"authorVerified"`
}

// ChannelVideos is a page of channel videos, shorts or streams.
type ChannelVideos struct {
	Videos       []VideoListItem `json:"videos"`
	Continuation string          `json:"continuation,omitempty"`
}

// ChannelPlaylists is a page of a channel's playlists.
type ChannelPlaylists struct {
	Playlists    []PlaylistListItem `json:"playlists"`
	Continuation string             `json:"continuation,omitempty"`
}

// ChannelExtract is the channel listing for a non-YouTube site.
type ChannelExtract struct {
	Author       string          `json:"author"`
	AuthorID     string          `json:"authorId"`
	AuthorURL    string          `json:"authorUrl"`
	Extractor    string          `json:"extractor"`
	Videos       []VideoListItem `json:"videos"`
	Continuation string          `json:"continuation,omitempty"`
}

// Playlist is the playlist detail response.
type Playlist struct {
	PlaylistID  string          `json:"playlistId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Author      string          `json:"author,omitempty"`
	AuthorID    string          `json:"authorId,omitempty"`
	VideoCount  int64           `json:"videoCount"`
	Videos      []VideoListItem `json:"videos"`
}

// SearchSuggestions is the autocomplete response.
type SearchSuggestions struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
}

// Comment is a top level video comment.
type Comment struct {
	Author               string          `json:"author"`
	AuthorID             string          `json:"authorId"`
	AuthorURL            string          `json:"authorUrl,omitempty"`
	AuthorThumbnails     []Thumbnail     `json:"authorThumbnails"`
	AuthorIsChannelOwner bool            `json:"authorIsChannelOwner"`
	Content              string          `json:"content"`
	ContentHTML          string          `json:"contentHtml,omitempty"`
	CommentID            string          `json:"commentId"`
	Published            int64           `json:"published,omitempty"`
	PublishedText        string          `json:"publishedText,omitempty"`
	LikeCount            int64           `json:"likeCount"`
	IsEdited             bool            `json:"isEdited"`
	IsPinned             bool            `json:"isPinned"`
	Replies              *CommentReplies `json:"replies,omitempty"`
}

// CommentReplies points at the continuation for a reply thread.
type CommentReplies struct {
	ReplyCount   int64  `json:"replyCount"`
	Continuation string `json:"continuation,omitempty"`
}

// Comments is a page of comments for a video.
type Comments struct {
	VideoID      string    `json:"videoId,omitempty"`
	CommentCount int64     `json:"commentCount,omitempty"`
	Comments     []Comment `json:"comments"`
	Continuation string    `json:"continuation,omitempty"`
}

// ThumbnailImage carries raw image bytes for the thumbnail passthrough.
type ThumbnailImage struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// SearchResult is one entry of a mixed search response. Exactly one field is set.
type SearchResult struct {
	Video    *VideoListItem
	Channel  *ChannelListItem
	Playlist *PlaylistListItem
}

// MarshalJSON emits the populated variant.
func (r SearchResult) MarshalJSON() ([]byte, error) {
	switch {
	case r.Video != nil:
		return json.Marshal(r.Video)
	case r.Channel != nil:
		return json.Marshal(r.Channel)
	case r.Playlist != nil:
		return json.Marshal(r.Playlist)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the variant selected by the "type" field.
func (r *SearchResult) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*r = SearchResult{}
	switch head.Type {
	case "", "video", "shortVideo":
		r.Video = &VideoListItem{}
		return json.Unmarshal(data, r.Video)
	case "channel":
		r.Channel = &ChannelListItem{}
		return json.Unmarshal(data, r.Channel)
	case "playlist":
		r.Playlist = &PlaylistListItem{}
		return json.Unmarshal(data, r.Playlist)
	default:
		return fmt.Errorf("unknown search result type %q", head.Type)
	}
}
