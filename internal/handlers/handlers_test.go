package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yattee/server/internal/auth"
	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/proxy"
	"github.com/yattee/server/internal/scheduler"
)

const testVideoID = "dQw4w9WgXcQ"

type stubResolver struct {
	mu       sync.Mutex
	results  map[gateway.Class]any
	err      error
	seen     []gateway.Descriptor
	captions gateway.CaptionTrack
}

func (s *stubResolver) Resolve(ctx context.Context, d gateway.Descriptor) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, d)
	if s.err != nil {
		return gateway.Result{}, s.err
	}
	data, ok := s.results[d.Class]
	if !ok {
		return gateway.Result{}, fmt.Errorf("no stub for %s: %w", d.Class, gateway.ErrNotFound)
	}
	return gateway.Result{Class: d.Class, Backend: gateway.BackendYTDLP, Data: data}, nil
}

func (s *stubResolver) CaptionContent(ctx context.Context, videoID, lang string, auto bool, format string) (gateway.CaptionTrack, error) {
	if s.err != nil {
		return gateway.CaptionTrack{}, s.err
	}
	return s.captions, nil
}

type stubAuth struct {
	token    string
	checkErr error
}

func (a stubAuth) CheckStreamToken(ctx context.Context, token, videoID string) error {
	return a.checkErr
}

func (a stubAuth) StreamToken(ctx context.Context, videoID string, ttl time.Duration) string {
	return a.token
}

type stubSites struct{ proxy bool }

func (s stubSites) ProxyStreaming(ctx context.Context, extractor string) bool { return s.proxy }

type stubRefresher struct {
	mu        sync.Mutex
	queued    []string
	fetching  map[string]bool
	forgotten []string
	manual    bool
}

func (r *stubRefresher) RefreshInBackground(channels []models.WatchedChannel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range channels {
		r.queued = append(r.queued, ch.ChannelID)
	}
	return true
}

func (r *stubRefresher) RefreshAll() bool {
	if r.manual {
		return false
	}
	r.manual = true
	return true
}

func (r *stubRefresher) Fetching(channelID string) bool { return r.fetching[channelID] }

func (r *stubRefresher) Forget(channelID string) { r.forgotten = append(r.forgotten, channelID) }

func (r *stubRefresher) Status() scheduler.Status { return scheduler.Status{Running: true} }

type stubProxy struct {
	ready     *proxy.Job
	streamErr error
	payload   string
	requests  []proxy.Request
}

func (p *stubProxy) Stream(ctx context.Context, w io.Writer, req proxy.Request) (proxy.Job, error) {
	p.requests = append(p.requests, req)
	if p.streamErr != nil {
		return proxy.Job{}, p.streamErr
	}
	_, _ = io.WriteString(w, p.payload)
	return proxy.Job{ID: "job", Status: proxy.StatusReady}, nil
}

func (p *stubProxy) Ready(videoID, format string) (proxy.Job, bool) {
	if p.ready == nil {
		return proxy.Job{}, false
	}
	return *p.ready, true
}

type testServer struct {
	resolver  *stubResolver
	refresher *stubRefresher
	proxy     *stubProxy
	store     *feed.MemoryStore
	mux       *http.ServeMux
}

func newTestServer(t *testing.T, deps Dependencies) *testServer {
	t.Helper()
	ts := &testServer{
		resolver:  &stubResolver{results: map[gateway.Class]any{}},
		refresher: &stubRefresher{fetching: map[string]bool{}},
		proxy:     &stubProxy{},
		store:     feed.NewMemoryStore(),
		mux:       http.NewServeMux(),
	}
	if deps.Resolver == nil {
		deps.Resolver = ts.resolver
	}
	if deps.Feed == nil {
		deps.Feed = ts.store
	}
	if deps.Refresher == nil {
		deps.Refresher = ts.refresher
	}
	if deps.Proxy == nil {
		deps.Proxy = ts.proxy
	}
	RegisterRoutes(ts.mux, deps)
	return ts
}

func (ts *testServer) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func sampleVideo() models.Video {
	return models.Video{
		VideoID: testVideoID,
		Title:   "Never Gonna Give You Up",
		FormatStreams: []models.FormatStream{
			{URL: "https://cdn.example.com/18", Itag: "18", Type: "video/mp4; codecs=\"avc1\"", Container: "mp4", HTTPHeaders: map[string]string{"Referer": "x"}},
		},
		AdaptiveFormats: []models.AdaptiveFormat{
			{URL: "https://cdn.example.com/251", Itag: "251-drc", Type: "audio/webm; codecs=\"opus\"", Container: "webm"},
		},
		Captions: []models.Caption{
			{Label: "English", LanguageCode: "en", URL: gateway.CaptionContentPath(testVideoID, "en", false)},
		},
	}
}

func TestVideoRewritesStreamsThroughProxy(t *testing.T) {
	ts := newTestServer(t, Dependencies{Auth: stubAuth{token: "tok"}, Sites: stubSites{proxy: true}})
	ts.resolver.results[gateway.ClassVideo] = sampleVideo()

	rec := ts.do(http.MethodGet, "http://example.com/api/v1/videos/"+testVideoID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	video := decode[models.Video](t, rec)

	wantStream := "http://example.com/proxy/fast/" + testVideoID + "?itag=18&token=tok"
	if video.FormatStreams[0].URL != wantStream {
		t.Fatalf("format stream url = %q, want %q", video.FormatStreams[0].URL, wantStream)
	}
	if video.FormatStreams[0].HTTPHeaders != nil {
		t.Fatal("proxied streams must not leak upstream headers")
	}
	if !strings.HasPrefix(video.AdaptiveFormats[0].URL, "http://example.com/proxy/fast/") {
		t.Fatalf("adaptive url not proxied: %q", video.AdaptiveFormats[0].URL)
	}
	wantCaption := "http://example.com/api/v1/captions/" + testVideoID + "/content?lang=en&token=tok"
	if video.Captions[0].URL != wantCaption {
		t.Fatalf("caption url = %q, want %q", video.Captions[0].URL, wantCaption)
	}
}

func TestVideoProxyQueryOverridesSite(t *testing.T) {
	ts := newTestServer(t, Dependencies{Sites: stubSites{proxy: true}})
	ts.resolver.results[gateway.ClassVideo] = sampleVideo()

	rec := ts.do(http.MethodGet, "http://example.com/api/v1/videos/"+testVideoID+"?proxy=false&invidious=false", nil)
	video := decode[models.Video](t, rec)
	if video.FormatStreams[0].URL != "https://cdn.example.com/18" {
		t.Fatalf("direct url rewritten: %q", video.FormatStreams[0].URL)
	}
	if got := ts.resolver.seen[0].ForceInvidious; got == nil || *got {
		t.Fatalf("invidious override not forwarded: %v", got)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"site disabled", &gateway.SiteDisabledError{URL: "https://vimeo.com/1", Extractor: "vimeo"}, http.StatusForbidden, "site_disabled"},
		{"not found", &gateway.ExtractionError{Backend: gateway.BackendYTDLP, Attempts: 1, Err: gateway.ErrNotFound}, http.StatusNotFound, "not_found"},
		{"extraction", &gateway.ExtractionError{Backend: gateway.BackendYTDLP, Attempts: 3, Err: errors.New("boom")}, http.StatusBadGateway, "extraction_failed"},
		{"validation", fmt.Errorf("%w: bad id", gateway.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{"backend", gateway.ErrBackendUnavailable, http.StatusNotImplemented, "backend_unavailable"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, Dependencies{})
			ts.resolver.err = tc.err
			rec := ts.do(http.MethodGet, "/api/v1/search?q=test", nil)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			body := decode[errorResponse](t, rec)
			if body.Error != tc.kind || body.Message == "" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestSearchForwardsQuery(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.resolver.results[gateway.ClassSearch] = []models.SearchResult{}

	rec := ts.do(http.MethodGet, "/api/v1/search?q=lofi&type=channel&page=2&sort_by=date", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	d := ts.resolver.seen[0]
	if d.Query != "lofi" || d.Type != "channel" || d.Page != 2 || d.Sort != "date" {
		t.Fatalf("descriptor not populated: %+v", d)
	}
}

func TestChannelTabRoute(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.resolver.results[gateway.ClassChannelTab] = models.ChannelVideos{Videos: []models.VideoListItem{}}
	ts.resolver.results[gateway.ClassChannelVideos] = models.ChannelVideos{Videos: []models.VideoListItem{}}

	if rec := ts.do(http.MethodGet, "/api/v1/channels/UCabc/shorts", nil); rec.Code != http.StatusOK {
		t.Fatalf("tab status = %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/v1/channels/UCabc/videos", nil); rec.Code != http.StatusOK {
		t.Fatalf("videos status = %d", rec.Code)
	}
	if ts.resolver.seen[0].Class != gateway.ClassChannelTab || ts.resolver.seen[0].Tab != "shorts" {
		t.Fatalf("unexpected tab descriptor %+v", ts.resolver.seen[0])
	}
	if ts.resolver.seen[1].Class != gateway.ClassChannelVideos {
		t.Fatalf("videos routed to %s", ts.resolver.seen[1].Class)
	}
}

func TestThumbnailRequiresToken(t *testing.T) {
	ts := newTestServer(t, Dependencies{Auth: stubAuth{checkErr: auth.ErrTokenMissing}})
	rec := ts.do(http.MethodGet, "/api/v1/thumbnails/"+testVideoID+"/hqdefault.jpg", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestThumbnailServesImage(t *testing.T) {
	ts := newTestServer(t, Dependencies{Auth: stubAuth{}})
	ts.resolver.results[gateway.ClassThumbnails] = models.ThumbnailImage{ContentType: "image/webp", Data: []byte("img")}

	rec := ts.do(http.MethodGet, "/api/v1/thumbnails/"+testVideoID+"/maxres.webp", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "img" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/webp" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if ts.resolver.seen[0].File != "maxres.webp" {
		t.Fatalf("file not forwarded: %+v", ts.resolver.seen[0])
	}
}

func TestCaptionContent(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.resolver.captions = gateway.CaptionTrack{ContentType: "text/vtt", Data: []byte("WEBVTT")}

	rec := ts.do(http.MethodGet, "/api/v1/captions/"+testVideoID+"/content?lang=en", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "WEBVTT" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}
