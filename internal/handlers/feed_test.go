package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/models"
)

func seedReadyChannel(t *testing.T, store *feed.MemoryStore, channelID string, published ...time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := store.Watch(ctx, []models.WatchedChannel{{ChannelID: channelID, Site: models.SiteYouTube}}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	videos := make([]models.FeedVideo, len(published))
	for i, at := range published {
		videos[i] = models.FeedVideo{
			ChannelID:   channelID,
			Site:        models.SiteYouTube,
			VideoID:     channelID + "-v" + string(rune('a'+i)),
			Title:       "video",
			PublishedAt: at,
		}
	}
	if _, err := store.MergeChannelVideos(ctx, channelID, videos, feed.Limits{MaxVideos: 30, MaxAge: 30 * 24 * time.Hour}); err != nil {
		t.Fatalf("MergeChannelVideos() error = %v", err)
	}
	if err := store.RecordFetch(ctx, channelID, feed.FetchOutcome{At: time.Now(), Status: models.FetchStatusOK, Fetched: len(videos)}); err != nil {
		t.Fatalf("RecordFetch() error = %v", err)
	}
}

func TestFeedQueuesOnlyPendingChannels(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	now := time.Now()
	seedReadyChannel(t, ts.store, "UCready", now.Add(-2*time.Hour), now.Add(-time.Hour))

	rec := ts.do(http.MethodPost, "/api/v1/feed", map[string]any{
		"channels": []map[string]string{
			{"channel_id": "UCready", "site": "youtube"},
			{"channel_id": "UCnew", "site": "youtube", "channel_name": "New"},
		},
		"limit": 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[feedResponse](t, rec)

	if resp.Status != "fetching" || resp.ReadyCount != 1 || resp.PendingCount != 1 || resp.ErrorCount != 0 {
		t.Fatalf("unexpected counts %+v", resp.feedCounts)
	}
	if resp.Total != 2 || len(resp.Videos) != 2 || resp.HasMore {
		t.Fatalf("unexpected page: total=%d videos=%d hasMore=%v", resp.Total, len(resp.Videos), resp.HasMore)
	}
	if resp.Videos[0].VideoID != "UCready-vb" {
		t.Fatalf("feed not newest first: %s", resp.Videos[0].VideoID)
	}
	if len(ts.refresher.queued) != 1 || ts.refresher.queued[0] != "UCnew" {
		t.Fatalf("unexpected queue %v", ts.refresher.queued)
	}
	if resp.ETASeconds == nil || *resp.ETASeconds != etaPerChannel {
		t.Fatalf("unexpected eta %v", resp.ETASeconds)
	}
}

func TestFeedSkipsChannelsAlreadyFetching(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.refresher.fetching["UCbusy"] = true

	rec := ts.do(http.MethodPost, "/api/v1/feed", map[string]any{
		"channels": []map[string]string{{"channel_id": "UCbusy", "site": "youtube"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.refresher.queued) != 0 {
		t.Fatalf("in-flight channel queued again: %v", ts.refresher.queued)
	}
}

func TestFeedRejectsBadChannels(t *testing.T) {
	ts := newTestServer(t, Dependencies{})

	rec := ts.do(http.MethodPost, "/api/v1/feed", map[string]any{
		"channels": []map[string]string{{"channel_id": "UCx"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing site: status = %d", rec.Code)
	}

	rec = ts.do(http.MethodPost, "/api/v1/feed", map[string]any{
		"channels": []map[string]string{{"channel_id": "x", "site": "vimeo", "channel_url": "http://127.0.0.1/admin"}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("private url: status = %d", rec.Code)
	}
}

func TestFeedEmptyIsReady(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	rec := ts.do(http.MethodPost, "/api/v1/feed", map[string]any{"channels": []any{}})
	resp := decode[feedResponse](t, rec)
	if resp.Status != "ready" || resp.Videos == nil {
		t.Fatalf("unexpected empty response %+v", resp)
	}
}

func TestFeedStatusCountsErrors(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ctx := context.Background()
	seedReadyChannel(t, ts.store, "UCok", time.Now().Add(-time.Hour))
	if err := ts.store.Watch(ctx, []models.WatchedChannel{{ChannelID: "UCbad"}}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := ts.store.RecordFetch(ctx, "UCbad", feed.FetchOutcome{At: time.Now(), Status: models.FetchStatusError, Error: "boom"}); err != nil {
		t.Fatalf("RecordFetch() error = %v", err)
	}

	rec := ts.do(http.MethodPost, "/api/v1/feed/status", map[string]any{
		"channels": []map[string]string{
			{"channel_id": "UCok", "site": "youtube"},
			{"channel_id": "UCbad", "site": "youtube"},
		},
	})
	counts := decode[feedCounts](t, rec)
	if counts.Status != "ready" || counts.ReadyCount != 1 || counts.ErrorCount != 1 || counts.PendingCount != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestUnwatchCascades(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	seedReadyChannel(t, ts.store, "UCgone", time.Now().Add(-time.Hour))

	if rec := ts.do(http.MethodDelete, "/api/v1/feed/channels/UCgone", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.refresher.forgotten) != 1 {
		t.Fatal("scheduler state not forgotten")
	}
	page, err := ts.store.CombinedFeed(context.Background(), []string{"UCgone"}, 10, 0)
	if err != nil {
		t.Fatalf("CombinedFeed() error = %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("videos survived unwatch: %d", page.Total)
	}

	if rec := ts.do(http.MethodDelete, "/api/v1/feed/channels/UCgone", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second unwatch status = %d", rec.Code)
	}
}

func TestRefreshReportsConflictWhileRunning(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	if rec := ts.do(http.MethodPost, "/api/v1/feed/refresh", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("first refresh status = %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/v1/feed/refresh", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second refresh status = %d", rec.Code)
	}
}
