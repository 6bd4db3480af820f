package feed

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
)

// MemoryStore keeps the feed in process memory. It backs tests and the
// database-less development mode.
type MemoryStore struct {
	now func() time.Time

	mu       sync.RWMutex
	channels map[string]models.WatchedChannel
	videos   map[string]map[string]models.FeedVideo
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		channels: make(map[string]models.WatchedChannel),
		videos:   make(map[string]map[string]models.FeedVideo),
	}
}

// Watch implements Store.
func (m *MemoryStore) Watch(ctx context.Context, channels []models.WatchedChannel) error {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range channels {
		if ch.ChannelID == "" {
			continue
		}
		current, ok := m.channels[ch.ChannelID]
		if !ok {
			current = models.WatchedChannel{ChannelID: ch.ChannelID, LastFetchStatus: models.FetchStatusPending}
		}
		current.Site = firstNonEmpty(ch.Site, current.Site, models.SiteYouTube)
		current.DisplayName = firstNonEmpty(ch.DisplayName, current.DisplayName)
		current.ChannelURL = firstNonEmpty(ch.ChannelURL, current.ChannelURL)
		current.AvatarURL = firstNonEmpty(ch.AvatarURL, current.AvatarURL)
		current.LastRequestedAt = now
		m.channels[ch.ChannelID] = current
	}
	return nil
}

// Unwatch implements Store.
func (m *MemoryStore) Unwatch(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return ErrChannelNotWatched
	}
	delete(m.channels, channelID)
	delete(m.videos, channelID)
	return nil
}

// ListWatched implements Store.
func (m *MemoryStore) ListWatched(ctx context.Context) ([]models.WatchedChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WatchedChannel, 0, len(m.channels))
	for id, ch := range m.channels {
		out = append(out, m.withStatsLocked(id, ch))
	}
	sort.Slice(out, func(i, j int) bool { return lessChannel(out[i], out[j]) })
	return out, nil
}

// MergeChannelVideos implements Store.
func (m *MemoryStore) MergeChannelVideos(ctx context.Context, channelID string, videos []models.FeedVideo, limits Limits) (MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return MergeResult{}, ErrChannelNotWatched
	}

	stored := m.videos[channelID]
	existing := make([]models.FeedVideo, 0, len(stored))
	for _, v := range stored {
		existing = append(existing, v)
	}
	incoming := slices.Clone(videos)
	for i := range incoming {
		incoming[i].ChannelID = channelID
	}

	plan := PlanMerge(existing, incoming, m.now().UTC(), limits)
	next := make(map[string]models.FeedVideo, len(plan.Keep))
	for _, v := range plan.Keep {
		next[v.VideoID] = v
	}
	m.videos[channelID] = next

	if plan.Duplicates > 0 {
		logging.FromContext(ctx).Warn("dropped duplicate feed videos", "channelId", channelID, "duplicates", plan.Duplicates)
	}
	return MergeResult{Stored: len(plan.Keep), Removed: len(plan.Remove), Duplicates: plan.Duplicates}, nil
}

// CombinedFeed implements Store.
func (m *MemoryStore) CombinedFeed(ctx context.Context, channelIDs []string, limit, offset int) (Page, error) {
	limit, offset = PageBounds(limit, offset)
	m.mu.RLock()
	var all []models.FeedVideo
	for _, id := range dedupe(channelIDs) {
		for _, v := range m.videos[id] {
			all = append(all, v)
		}
	}
	m.mu.RUnlock()

	SortNewestFirst(all)
	page := Page{Total: len(all), Videos: []models.FeedVideo{}}
	if offset < len(all) {
		page.Videos = all[offset:min(offset+limit, len(all))]
	}
	page.HasMore = offset+len(page.Videos) < page.Total
	return page, nil
}

// ChannelStatus implements Store.
func (m *MemoryStore) ChannelStatus(ctx context.Context, channelIDs []string) (map[string]models.WatchedChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.WatchedChannel, len(channelIDs))
	for _, id := range channelIDs {
		if ch, ok := m.channels[id]; ok {
			out[id] = m.withStatsLocked(id, ch)
		}
	}
	return out, nil
}

// RecordFetch implements Store.
func (m *MemoryStore) RecordFetch(ctx context.Context, channelID string, outcome FetchOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return ErrChannelNotWatched
	}
	m.channels[channelID] = applyOutcome(ch, outcome, m.now())
	return nil
}

// PruneOlderThan implements Store.
func (m *MemoryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, videos := range m.videos {
		for id, v := range videos {
			if v.PublishedAt.Before(cutoff) {
				delete(videos, id)
				removed++
			}
		}
	}
	return removed, nil
}

// CleanupStale implements Store.
func (m *MemoryStore) CleanupStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, ch := range m.channels {
		if ch.LastRequestedAt.Before(cutoff) {
			delete(m.channels, id)
			delete(m.videos, id)
			removed++
		}
	}
	return removed, nil
}

// CleanupOrphans implements Store. Unwatch already deletes videos, so only
// rows left behind by an interrupted unwatch are found here.
func (m *MemoryStore) CleanupOrphans(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, videos := range m.videos {
		if _, ok := m.channels[id]; !ok {
			removed += len(videos)
			delete(m.videos, id)
		}
	}
	return removed, nil
}

func (m *MemoryStore) withStatsLocked(id string, ch models.WatchedChannel) models.WatchedChannel {
	var latest time.Time
	for _, v := range m.videos[id] {
		if v.PublishedAt.After(latest) {
			latest = v.PublishedAt
		}
	}
	if !latest.IsZero() {
		ch.LastVideoPublished = &latest
	}
	return ch
}

// applyOutcome folds a fetch outcome into a channel row.
func applyOutcome(ch models.WatchedChannel, outcome FetchOutcome, now time.Time) models.WatchedChannel {
	at := outcome.At
	if at.IsZero() {
		at = now
	}
	at = at.UTC()
	ch.LastFetchAt = &at
	ch.LastFetchStatus = outcome.Status
	ch.LastError = ""
	if outcome.Status == models.FetchStatusError {
		ch.LastError = TruncateError(outcome.Error)
	}
	ch.VideosFetched = outcome.Fetched
	ch.PaginationLimited = false
	ch.LimitReason = ""
	if p := outcome.Pagination; p != nil {
		ch.PaginationLimited = p.Limited
		ch.LimitReason = p.LimitReason
	}
	if md := outcome.Metadata; md != nil {
		if md.SubscriberCount != nil {
			count := *md.SubscriberCount
			ch.SubscriberCount = &count
		}
		if md.IsVerified != nil {
			ch.IsVerified = *md.IsVerified
		}
	}
	return ch
}

func lessChannel(a, b models.WatchedChannel) bool {
	if a.Site != b.Site {
		return a.Site < b.Site
	}
	return a.ChannelID < b.ChannelID
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Store = (*MemoryStore)(nil)
