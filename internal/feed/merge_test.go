package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/yattee/server/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func video(id string, published time.Time) models.FeedVideo {
	return models.FeedVideo{ChannelID: "UC1", VideoID: id, Title: "title " + id, PublishedAt: published}
}

func TestPlanMergeIncomingWins(t *testing.T) {
	existing := []models.FeedVideo{video("a", base.Add(-2*time.Hour))}
	incoming := []models.FeedVideo{video("a", base.Add(-time.Hour))}
	incoming[0].Title = "renamed"

	plan := PlanMerge(existing, incoming, base, Limits{MaxVideos: 10, MaxAge: 24 * time.Hour})
	if len(plan.Keep) != 1 {
		t.Fatalf("expected 1 video, got %d", len(plan.Keep))
	}
	got := plan.Keep[0]
	if got.Title != "renamed" || !got.PublishedAt.Equal(base.Add(-time.Hour)) {
		t.Fatalf("incoming metadata not applied: %+v", got)
	}
	if len(plan.Remove) != 0 {
		t.Fatalf("unexpected removals: %v", plan.Remove)
	}
}

func TestPlanMergeKeepsStoredTimeWhenIncomingHasNone(t *testing.T) {
	stored := base.Add(-3 * time.Hour)
	plan := PlanMerge(
		[]models.FeedVideo{video("a", stored)},
		[]models.FeedVideo{video("a", time.Time{}), video("b", time.Time{})},
		base,
		Limits{MaxVideos: 10},
	)
	byID := map[string]models.FeedVideo{}
	for _, v := range plan.Keep {
		byID[v.VideoID] = v
	}
	if !byID["a"].PublishedAt.Equal(stored) {
		t.Fatalf("expected stored publish time, got %v", byID["a"].PublishedAt)
	}
	if !byID["b"].PublishedAt.Equal(base) {
		t.Fatalf("expected new video stamped with now, got %v", byID["b"].PublishedAt)
	}
}

func TestPlanMergeDropsDuplicatesKeepingFirst(t *testing.T) {
	first := video("a", base.Add(-time.Hour))
	first.Title = "first"
	second := video("a", base.Add(-2*time.Hour))
	second.Title = "second"

	plan := PlanMerge(nil, []models.FeedVideo{first, second}, base, Limits{MaxVideos: 10})
	if plan.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", plan.Duplicates)
	}
	if len(plan.Keep) != 1 || plan.Keep[0].Title != "first" {
		t.Fatalf("unexpected keep set: %+v", plan.Keep)
	}
}

func TestPlanMergeAppliesCapAndAgeIndependently(t *testing.T) {
	var existing []models.FeedVideo
	for i := range 5 {
		existing = append(existing, video(fmt.Sprintf("old%d", i), base.Add(-time.Duration(40+i)*24*time.Hour)))
	}
	var incoming []models.FeedVideo
	for i := range 6 {
		incoming = append(incoming, video(fmt.Sprintf("new%d", i), base.Add(-time.Duration(i)*time.Hour)))
	}

	plan := PlanMerge(existing, incoming, base, Limits{MaxVideos: 4, MaxAge: 30 * 24 * time.Hour})
	if len(plan.Keep) != 4 {
		t.Fatalf("expected cap of 4, got %d", len(plan.Keep))
	}
	for i, v := range plan.Keep {
		if want := fmt.Sprintf("new%d", i); v.VideoID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, v.VideoID)
		}
	}
	if len(plan.Remove) != 5 {
		t.Fatalf("expected all aged rows removed, got %v", plan.Remove)
	}
}

func TestNewerBreaksTiesByVideoID(t *testing.T) {
	a := video("a", base)
	b := video("b", base)
	if !Newer(b, a) || Newer(a, b) {
		t.Fatal("expected higher video id to sort first on equal publish time")
	}
}
