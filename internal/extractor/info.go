package extractor

import (
	"encoding/json"
	"strconv"
	"time"
)

// Thumbnail is a yt-dlp thumbnail entry.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	ID     string `json:"id"`
}

// Format is a yt-dlp format entry.
type Format struct {
	FormatID       string            `json:"format_id"`
	URL            string            `json:"url"`
	Ext            string            `json:"ext"`
	VCodec         string            `json:"vcodec"`
	ACodec         string            `json:"acodec"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	FPS            float64           `json:"fps"`
	TBR            float64           `json:"tbr"`
	VBR            float64           `json:"vbr"`
	ABR            float64           `json:"abr"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	VideoExt       string            `json:"video_ext"`
	AudioExt       string            `json:"audio_ext"`
	ManifestURL    string            `json:"manifest_url"`
	FormatNote     string            `json:"format_note"`
	Protocol       string            `json:"protocol"`
	Language       string            `json:"language"`
	HTTPHeaders    map[string]string `json:"http_headers"`
}

// Subtitle is one rendition of a subtitle track.
type Subtitle struct {
	URL  string `json:"url"`
	Ext  string `json:"ext"`
	Name string `json:"name"`
}

// Info is the subset of yt-dlp's JSON document the server consumes.
type Info struct {
	ID                   string                `json:"id"`
	Type                 string                `json:"_type"`
	Title                string                `json:"title"`
	Description          string                `json:"description"`
	Extractor            string                `json:"extractor"`
	ExtractorKey         string                `json:"extractor_key"`
	WebpageURL           string                `json:"webpage_url"`
	OriginalURL          string                `json:"original_url"`
	URL                  string                `json:"url"`
	Uploader             string                `json:"uploader"`
	UploaderID           string                `json:"uploader_id"`
	UploaderURL          string                `json:"uploader_url"`
	Channel              string                `json:"channel"`
	ChannelID            string                `json:"channel_id"`
	ChannelURL           string                `json:"channel_url"`
	ChannelFollowerCount *int64                `json:"channel_follower_count"`
	ChannelIsVerified    bool                  `json:"channel_is_verified"`
	PlaylistUploader     string                `json:"playlist_uploader"`
	PlaylistUploaderID   string                `json:"playlist_uploader_id"`
	PlaylistChannel      string                `json:"playlist_channel"`
	PlaylistChannelID    string                `json:"playlist_channel_id"`
	PlaylistChannelURL   string                `json:"playlist_channel_url"`
	PlaylistUploaderURL  string                `json:"playlist_uploader_url"`
	PlaylistCount        int64                 `json:"playlist_count"`
	Duration             float64               `json:"duration"`
	ViewCount            int64                 `json:"view_count"`
	LikeCount            int64                 `json:"like_count"`
	Timestamp            *float64              `json:"timestamp"`
	ReleaseTimestamp     *float64              `json:"release_timestamp"`
	UploadDate           string                `json:"upload_date"`
	IsLive               bool                  `json:"is_live"`
	IsUpcoming           bool                  `json:"is_upcoming"`
	LiveStatus           string                `json:"live_status"`
	ManifestURL          string                `json:"manifest_url"`
	Thumbnail            string                `json:"thumbnail"`
	Thumbnails           []Thumbnail           `json:"thumbnails"`
	Formats              []Format              `json:"formats"`
	Subtitles            map[string][]Subtitle `json:"subtitles"`
	AutomaticCaptions    map[string][]Subtitle `json:"automatic_captions"`
	Entries              []Info                `json:"entries"`
}

const minValidTimestamp = 1104537600

// DecodeInfo parses one yt-dlp JSON document.
func DecodeInfo(raw json.RawMessage) (Info, error) {
	var info Info
	err := json.Unmarshal(raw, &info)
	return info, err
}

// Published resolves the publication instant from timestamp, release
// timestamp or upload_date (YYYYMMDD), in that order. Timestamps before 2005
// are placeholders from flat listings and ignored. The zero time means unknown.
func (i Info) Published() time.Time {
	if i.Timestamp != nil && *i.Timestamp > minValidTimestamp {
		return time.Unix(int64(*i.Timestamp), 0).UTC()
	}
	if i.ReleaseTimestamp != nil && *i.ReleaseTimestamp > minValidTimestamp {
		return time.Unix(int64(*i.ReleaseTimestamp), 0).UTC()
	}
	return ParseUploadDate(i.UploadDate)
}

// ParseUploadDate parses yt-dlp's YYYYMMDD upload date. Invalid input yields the zero time.
func ParseUploadDate(s string) time.Time {
	if len(s) != 8 {
		return time.Time{}
	}
	if _, err := strconv.Atoi(s); err != nil {
		return time.Time{}
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AuthorName prefers the uploader and falls back to flat-playlist fields.
func (i Info) AuthorName() string {
	return firstNonEmpty(i.Uploader, i.Channel, i.PlaylistUploader, i.PlaylistChannel)
}

// AuthorID prefers the channel id and falls back to flat-playlist fields.
func (i Info) AuthorID() string {
	return firstNonEmpty(i.ChannelID, i.UploaderID, i.PlaylistChannelID, i.PlaylistUploaderID)
}

// AuthorURL prefers channel_url over uploader_url and flat-playlist fields.
func (i Info) AuthorURL() string {
	return firstNonEmpty(i.ChannelURL, i.UploaderURL, i.PlaylistChannelURL, i.PlaylistUploaderURL)
}

// PageURL is the canonical page of the item for re-extraction.
func (i Info) PageURL() string {
	return firstNonEmpty(i.WebpageURL, i.OriginalURL, i.URL)
}

// ExtractorName prefers the display key.
func (i Info) ExtractorName() string {
	return firstNonEmpty(i.ExtractorKey, i.Extractor)
}

// Live reports whether the item is currently live.
func (i Info) Live() bool {
	return i.IsLive || i.LiveStatus == "is_live"
}

// Upcoming reports whether the item is a scheduled premiere or stream.
func (i Info) Upcoming() bool {
	return i.IsUpcoming || i.LiveStatus == "is_upcoming"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
