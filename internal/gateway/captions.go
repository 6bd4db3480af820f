package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yattee/server/internal/cache"
	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/logging"
)

const (
	captionContentClass = "caption-content"
	captionFetchTimeout = 30 * time.Second
	maxCaptionBytes     = 5 << 20
	browserUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var captionContentTypes = map[string]string{
	"vtt":   "text/vtt",
	"srv1":  "application/xml",
	"json3": "application/json",
}

// CaptionTrack is the body of one caption track.
type CaptionTrack struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// CaptionContent downloads a caption track in format (vtt, srv1, json3). The
// requested kind (manual or automatic) is searched first, then the other.
func (g *Gateway) CaptionContent(ctx context.Context, videoID, lang string, auto bool, format string) (CaptionTrack, error) {
	if !extractor.ValidVideoID(videoID) {
		return CaptionTrack{}, invalidf("invalid video id %q", videoID)
	}
	if lang == "" {
		return CaptionTrack{}, invalidf("lang is required")
	}
	if format == "" {
		format = "vtt"
	}

	s := g.settings.Current()
	if err := g.gate(ctx, g.policies[ClassVideo], s, Descriptor{Class: ClassVideo, ID: videoID}); err != nil {
		return CaptionTrack{}, err
	}

	key := cache.Key(captionContentClass, videoID, lang, strconv.FormatBool(auto), format)
	if track, ok := cache.GetJSON[CaptionTrack](ctx, g.cache, key); ok {
		g.metrics.CacheHits.WithLabelValues(captionContentClass).Inc()
		return track, nil
	}
	g.metrics.CacheMisses.WithLabelValues(captionContentClass).Inc()

	v, err, _ := g.group.Do(key, func() (any, error) {
		info, err := g.extractInfo(ctx, s, extractor.VideoURL(videoID), extractor.Options{NoPlaylist: true})
		g.observe(ClassCaptions, BackendYTDLP, err)
		if err != nil {
			return nil, &ExtractionError{Backend: BackendYTDLP, Attempts: 1, Err: err}
		}
		target, ok := captionURL(info, lang, auto, format)
		if !ok {
			logging.FromContext(ctx).Warn("caption track not found",
				"videoId", videoID,
				"lang", lang,
				"auto", auto,
				"subtitles", len(info.Subtitles),
				"automaticCaptions", len(info.AutomaticCaptions),
			)
			return nil, fmt.Errorf("caption %s/%s: %w", videoID, lang, ErrNotFound)
		}
		data, err := g.fetchCaption(ctx, target)
		if err != nil {
			return nil, err
		}
		contentType, ok := captionContentTypes[format]
		if !ok {
			contentType = "text/plain"
		}
		track := CaptionTrack{ContentType: contentType, Data: data}
		if err := cache.SetJSON(ctx, g.cache, key, track, videoTTL(s)); err != nil {
			logging.FromContext(ctx).Warn("cache write failed", "class", captionContentClass, "error", err)
		}
		return track, nil
	})
	if err != nil {
		return CaptionTrack{}, err
	}
	return v.(CaptionTrack), nil
}

// captionURL picks the rendition in format, or the first rendition of lang.
func captionURL(info extractor.Info, lang string, auto bool, format string) (string, bool) {
	sources := []map[string][]extractor.Subtitle{info.Subtitles, info.AutomaticCaptions}
	if auto {
		sources[0], sources[1] = sources[1], sources[0]
	}
	for _, source := range sources {
		renditions := source[lang]
		if len(renditions) == 0 {
			continue
		}
		for _, r := range renditions {
			if r.Ext == format && r.URL != "" {
				return r.URL, true
			}
		}
		if renditions[0].URL != "" {
			return renditions[0].URL, true
		}
	}
	return "", false
}

func (g *Gateway) fetchCaption(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build caption request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	client := &http.Client{Timeout: captionFetchTimeout, Transport: g.transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ExtractionError{Backend: BackendDirect, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("caption host returned status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			err = errors.Join(err, ErrNotFound)
		}
		return nil, &ExtractionError{Backend: BackendDirect, Attempts: 1, Err: err}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionBytes))
	if err != nil {
		return nil, fmt.Errorf("read caption: %w", err)
	}
	return data, nil
}
