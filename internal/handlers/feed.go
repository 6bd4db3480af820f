package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
)

const (
	maxFeedChannels = 500
	// etaPerChannel is a rough fetch time estimate reported to polling clients.
	etaPerChannel = 3
)

// FeedHandler serves the stateless subscription feed. Clients send the full
// channel list on every call; the server keeps those channels fresh.
type FeedHandler struct {
	Store     feed.Store
	Refresher FeedRefresher
	// LookupIP resolves channel and avatar URL hosts; nil uses DNS.
	LookupIP extractor.LookupFunc
}

type feedChannelRequest struct {
	ChannelID   string `json:"channel_id"`
	Site        string `json:"site"`
	ChannelName string `json:"channel_name,omitempty"`
	ChannelURL  string `json:"channel_url,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type feedRequest struct {
	Channels []feedChannelRequest `json:"channels"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

type feedCounts struct {
	Status       string `json:"status"`
	ReadyCount   int    `json:"ready_count"`
	PendingCount int    `json:"pending_count"`
	ErrorCount   int    `json:"error_count"`
}

type feedResponse struct {
	feedCounts
	Videos     []models.VideoListItem `json:"videos"`
	Total      int                    `json:"total"`
	HasMore    bool                   `json:"has_more"`
	ETASeconds *int                   `json:"eta_seconds,omitempty"`
}

// Feed handles POST /api/v1/feed. It registers the channels, queues the ones
// without a completed fetch and returns what is cached so far.
func (h FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req feedRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	channels, err := h.validateChannels(ctx, req.Channels)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	if len(channels) == 0 {
		respondJSON(ctx, w, http.StatusOK, feedResponse{feedCounts: feedCounts{Status: "ready"}, Videos: []models.VideoListItem{}})
		return
	}

	if err := h.Store.Watch(ctx, channels); err != nil {
		respondErr(ctx, w, fmt.Errorf("watch channels: %w", err))
		return
	}

	ids := channelIDs(channels)
	counts, pending, err := h.counts(ctx, ids)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}

	var queue []models.WatchedChannel
	for _, ch := range channels {
		if pending[ch.ChannelID] && (h.Refresher == nil || !h.Refresher.Fetching(ch.ChannelID)) {
			queue = append(queue, ch)
		}
	}
	if len(queue) > 0 && h.Refresher != nil {
		h.Refresher.RefreshInBackground(queue)
	}

	limit, offset := feed.PageBounds(req.Limit, req.Offset)
	page, err := h.Store.CombinedFeed(ctx, ids, limit, offset)
	if err != nil {
		respondErr(ctx, w, fmt.Errorf("combined feed: %w", err))
		return
	}

	resp := feedResponse{
		feedCounts: counts,
		Videos:     make([]models.VideoListItem, 0, len(page.Videos)),
		Total:      page.Total,
		HasMore:    page.HasMore,
	}
	for _, v := range page.Videos {
		resp.Videos = append(resp.Videos, v.ListItem())
	}
	if counts.PendingCount > 0 {
		eta := counts.PendingCount * etaPerChannel
		resp.ETASeconds = &eta
	}

	logger.Info("feed served",
		"channels", len(channels),
		"ready", counts.ReadyCount,
		"pending", counts.PendingCount,
		"errored", counts.ErrorCount,
		"queued", len(queue),
	)
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Status handles POST /api/v1/feed/status, the polling companion of Feed.
func (h FeedHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req feedRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Channels) > maxFeedChannels {
		respondError(ctx, w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("at most %d channels per request", maxFeedChannels))
		return
	}

	ids := make([]string, 0, len(req.Channels))
	for _, ch := range req.Channels {
		if id := strings.TrimSpace(ch.ChannelID); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondJSON(ctx, w, http.StatusOK, feedCounts{Status: "ready"})
		return
	}

	counts, _, err := h.counts(ctx, ids)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, counts)
}

type refreshResponse struct {
	Started     bool       `json:"started"`
	Running     bool       `json:"running"`
	FetchingNow int        `json:"fetching_now"`
	LastCycle   *time.Time `json:"last_cycle_finished,omitempty"`
}

// Refresh handles POST /api/v1/feed/refresh by starting a manual cycle.
func (h FeedHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Refresher == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "unavailable", "feed scheduler is not running")
		return
	}
	started := h.Refresher.RefreshAll()
	st := h.Refresher.Status()
	resp := refreshResponse{Started: started, Running: st.Running, FetchingNow: st.FetchingNow}
	if !st.LastCycleFinished.IsZero() {
		finished := st.LastCycleFinished
		resp.LastCycle = &finished
	}
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	respondJSON(ctx, w, status, resp)
}

// Unwatch handles DELETE /api/v1/feed/channels/{id}.
func (h FeedHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := h.Store.Unwatch(ctx, id); err != nil {
		respondErr(ctx, w, err)
		return
	}
	if h.Refresher != nil {
		h.Refresher.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// counts classifies channels by their last fetch: ok is ready, error is done
// with an error, anything else is still pending.
func (h FeedHandler) counts(ctx context.Context, ids []string) (feedCounts, map[string]bool, error) {
	status, err := h.Store.ChannelStatus(ctx, ids)
	if err != nil {
		return feedCounts{}, nil, fmt.Errorf("channel status: %w", err)
	}
	pending := make(map[string]bool)
	var c feedCounts
	for _, id := range ids {
		ch, ok := status[id]
		switch {
		case ok && ch.LastFetchStatus == models.FetchStatusOK:
			c.ReadyCount++
		case ok && ch.LastFetchStatus == models.FetchStatusError:
			c.ErrorCount++
		default:
			c.PendingCount++
			pending[id] = true
		}
	}
	c.Status = "ready"
	if c.PendingCount > 0 {
		c.Status = "fetching"
	}
	return c, pending, nil
}

var errTooManyChannels = fmt.Errorf("at most %d channels per request", maxFeedChannels)

func (h FeedHandler) validateChannels(ctx context.Context, in []feedChannelRequest) ([]models.WatchedChannel, error) {
	if len(in) > maxFeedChannels {
		return nil, invalid(errTooManyChannels)
	}
	seen := make(map[string]bool, len(in))
	out := make([]models.WatchedChannel, 0, len(in))
	for _, ch := range in {
		id := strings.TrimSpace(ch.ChannelID)
		if id == "" || strings.TrimSpace(ch.Site) == "" {
			return nil, invalid(errors.New("channel_id and site are required"))
		}
		for _, raw := range []string{ch.ChannelURL, ch.AvatarURL} {
			if raw == "" {
				continue
			}
			if !extractor.ValidURL(raw) {
				return nil, invalid(fmt.Errorf("invalid url for channel %s", id))
			}
			if err := extractor.CheckSafeURL(ctx, raw, h.LookupIP); err != nil {
				return nil, fmt.Errorf("channel %s: %w", id, err)
			}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.WatchedChannel{
			ChannelID:   id,
			Site:        strings.ToLower(strings.TrimSpace(ch.Site)),
			DisplayName: ch.ChannelName,
			ChannelURL:  ch.ChannelURL,
			AvatarURL:   ch.AvatarURL,
		})
	}
	return out, nil
}

func channelIDs(channels []models.WatchedChannel) []string {
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ChannelID
	}
	return ids
}
