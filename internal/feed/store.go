package feed

import (
	"context"
	"errors"
	"time"

	"github.com/yattee/server/internal/models"
)

// ErrChannelNotWatched is returned when videos are merged for an unknown channel.
var ErrChannelNotWatched = errors.New("channel is not watched")

// maxErrorLength bounds the fetch error stored on a channel.
const maxErrorLength = 200

// Page is one slice of the combined feed.
type Page struct {
	Videos  []models.FeedVideo
	Total   int
	HasMore bool
}

// FetchOutcome is the result of one channel fetch recorded on the channel.
type FetchOutcome struct {
	At         time.Time
	Status     models.FetchStatus
	Error      string
	Fetched    int
	Pagination *models.FetchPagination
	Metadata   *models.ChannelMetadata
}

// MergeResult summarizes a merge.
type MergeResult struct {
	Stored     int
	Removed    int
	Duplicates int
}

// Store persists watched channels and their recent uploads. Implementations
// must tolerate concurrent readers and writers; a merge is atomic per channel.
type Store interface {
	// Watch registers channels, refreshing their last request time. Empty
	// fields never overwrite stored values.
	Watch(ctx context.Context, channels []models.WatchedChannel) error
	// Unwatch removes a channel and deletes its stored videos.
	Unwatch(ctx context.Context, channelID string) error
	ListWatched(ctx context.Context) ([]models.WatchedChannel, error)
	MergeChannelVideos(ctx context.Context, channelID string, videos []models.FeedVideo, limits Limits) (MergeResult, error)
	CombinedFeed(ctx context.Context, channelIDs []string, limit, offset int) (Page, error)
	// ChannelStatus returns the watched channels among channelIDs keyed by id.
	ChannelStatus(ctx context.Context, channelIDs []string) (map[string]models.WatchedChannel, error)
	RecordFetch(ctx context.Context, channelID string, outcome FetchOutcome) error
	// PruneOlderThan deletes videos published before cutoff.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// CleanupStale unwatches channels last requested before cutoff.
	CleanupStale(ctx context.Context, cutoff time.Time) (int, error)
	// CleanupOrphans deletes videos whose channel is no longer watched.
	CleanupOrphans(ctx context.Context) (int, error)
}

// TruncateError bounds a fetch error message for storage.
func TruncateError(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxErrorLength {
		return msg
	}
	return string(runes[:maxErrorLength])
}

// PageBounds clamps limit and offset.
func PageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return limit, max(offset, 0)
}
