package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/yattee/server/internal/auth"
	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/proxy"
)

func TestProxyStreamsNamedFormat(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.proxy.payload = "media-bytes"

	rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID+"?format=bestaudio", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "media-bytes" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "audio/mp4" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	req := ts.proxy.requests[0]
	if req.Format != "bestaudio" || req.Ext != "m4a" || req.URL != "https://www.youtube.com/watch?v="+testVideoID {
		t.Fatalf("unexpected proxy request %+v", req)
	}
	if len(ts.resolver.seen) != 0 {
		t.Fatal("named formats must not resolve the video")
	}
}

func TestProxyResolvesItagContainer(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.resolver.results[gateway.ClassVideo] = sampleVideo()
	ts.proxy.payload = "opus"

	rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID+"?itag=251", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "audio/webm" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if req := ts.proxy.requests[0]; req.Format != "251" || req.Ext != "webm" {
		t.Fatalf("unexpected proxy request %+v", req)
	}
}

func TestProxyUnknownItagIsNotFound(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.resolver.results[gateway.ClassVideo] = sampleVideo()

	rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID+"?itag=999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProxyCapacityExceeded(t *testing.T) {
	ts := newTestServer(t, Dependencies{})
	ts.proxy.streamErr = proxy.ErrCapacityExceeded

	rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if body := decode[errorResponse](t, rec); body.Error != "capacity_exceeded" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestProxyServesStagedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), testVideoID+"_best_x.mp4")
	if err := os.WriteFile(path, []byte("staged"), 0o600); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	ts := newTestServer(t, Dependencies{})
	ts.proxy.ready = &proxy.Job{ID: "x", VideoID: testVideoID, Format: "best", FilePath: path, Status: proxy.StatusReady}

	rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "staged" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if len(ts.proxy.requests) != 0 {
		t.Fatal("staged file must be served without a new download")
	}
}

func TestProxyRejectsBadTokenAndPrivateURL(t *testing.T) {
	ts := newTestServer(t, Dependencies{Auth: stubAuth{checkErr: auth.ErrTokenExpired}})
	if rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID+"?token=old", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d", rec.Code)
	}

	ts = newTestServer(t, Dependencies{})
	if rec := ts.do(http.MethodGet, "/proxy/fast/abc?url=http://10.0.0.5/video", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("private url status = %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/proxy/fast/"+testVideoID+"?format=worst", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format status = %d", rec.Code)
	}
}
