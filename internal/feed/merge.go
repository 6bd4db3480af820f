// Package feed keeps the per-channel history of recent uploads that backs the
// subscription feed.
package feed

import (
	"sort"
	"time"

	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

// Limits bound the stored history of one channel.
type Limits struct {
	MaxVideos int
	MaxAge    time.Duration
}

// LimitsFrom reads the feed bounds of a settings snapshot.
func LimitsFrom(s settings.Settings) Limits {
	return Limits{MaxVideos: s.FeedMaxVideos, MaxAge: s.FeedMaxAge()}
}

// MergePlan is the outcome of merging a fetch into a channel's stored videos.
type MergePlan struct {
	// Keep is the full resulting set, newest first.
	Keep []models.FeedVideo
	// Remove lists the video ids of stored rows that must be deleted.
	Remove []string
	// Duplicates counts incoming entries dropped because an earlier entry had the same id.
	Duplicates int
}

// PlanMerge upserts incoming into existing by video id. Incoming metadata wins;
// an incoming video without a publication time keeps the stored one, or is
// stamped with now when new. Duplicates within incoming keep the first entry.
// The result then drops videos older than MaxAge and, independently, the
// oldest videos beyond MaxVideos.
func PlanMerge(existing, incoming []models.FeedVideo, now time.Time, limits Limits) MergePlan {
	var plan MergePlan

	stored := make(map[string]models.FeedVideo, len(existing))
	for _, v := range existing {
		stored[v.VideoID] = v
	}

	merged := make(map[string]models.FeedVideo, len(existing)+len(incoming))
	for id, v := range stored {
		merged[id] = v
	}
	seen := make(map[string]bool, len(incoming))
	for _, v := range incoming {
		if v.VideoID == "" {
			continue
		}
		if seen[v.VideoID] {
			plan.Duplicates++
			continue
		}
		seen[v.VideoID] = true
		if v.PublishedAt.IsZero() {
			if old, ok := stored[v.VideoID]; ok {
				v.PublishedAt = old.PublishedAt
			} else {
				v.PublishedAt = now
			}
		}
		if v.FetchedAt.IsZero() {
			v.FetchedAt = now
		}
		merged[v.VideoID] = v
	}

	keep := make([]models.FeedVideo, 0, len(merged))
	var cutoff time.Time
	if limits.MaxAge > 0 {
		cutoff = now.Add(-limits.MaxAge)
	}
	for _, v := range merged {
		if !cutoff.IsZero() && v.PublishedAt.Before(cutoff) {
			continue
		}
		keep = append(keep, v)
	}
	SortNewestFirst(keep)
	if limits.MaxVideos > 0 && len(keep) > limits.MaxVideos {
		keep = keep[:limits.MaxVideos]
	}

	kept := make(map[string]bool, len(keep))
	for _, v := range keep {
		kept[v.VideoID] = true
	}
	for id := range stored {
		if !kept[id] {
			plan.Remove = append(plan.Remove, id)
		}
	}
	sort.Strings(plan.Remove)
	plan.Keep = keep
	return plan
}

// Newer orders videos by publication time, then video id, both descending.
// Every store uses it so pages stay stable between merges.
func Newer(a, b models.FeedVideo) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	if a.VideoID != b.VideoID {
		return a.VideoID > b.VideoID
	}
	return a.ChannelID > b.ChannelID
}

// SortNewestFirst sorts videos in feed order.
func SortNewestFirst(videos []models.FeedVideo) {
	sort.Slice(videos, func(i, j int) bool { return Newer(videos[i], videos[j]) })
}
