package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/proxy"
)

var formatSelectors = map[string]string{
	"best":      "mp4",
	"bestvideo": "mp4",
	"bestaudio": "m4a",
}

// ProxyHandler streams media through the download pool.
type ProxyHandler struct {
	Proxy    StreamProxy
	Resolver Resolver
	Auth     StreamAuthorizer
	// LookupIP resolves hosts of external URLs; nil uses DNS.
	LookupIP extractor.LookupFunc
}

type streamTarget struct {
	target      string
	format      string
	ext         string
	contentType string
}

// Fast handles GET /proxy/fast/{id}?itag=&format=&url=&token=. A staged copy
// is served directly; otherwise a download slot is taken and the extractor
// output is relayed while it downloads.
func (h ProxyHandler) Fast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videoID := r.PathValue("id")
	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))

	if rawURL != "" {
		if !extractor.ValidURL(rawURL) {
			respondError(ctx, w, http.StatusBadRequest, "invalid_request", "invalid url format")
			return
		}
		if err := extractor.CheckSafeURL(ctx, rawURL, h.LookupIP); err != nil {
			respondErr(ctx, w, err)
			return
		}
	}
	if err := checkToken(h.Auth, r, videoID); err != nil {
		respondErr(ctx, w, err)
		return
	}

	target, err := h.selectFormat(ctx, videoID, rawURL, q.Get("itag"), q.Get("format"))
	if err != nil {
		respondErr(ctx, w, err)
		return
	}

	if job, ok := h.Proxy.Ready(videoID, target.format); ok {
		h.serveStaged(w, r, job, target.contentType)
		return
	}

	w.Header().Set("Content-Type", target.contentType)
	w.Header().Set("Accept-Ranges", "none")
	cw := &countingWriter{ResponseWriter: w}
	job, err := h.Proxy.Stream(ctx, cw, proxy.Request{
		VideoID: videoID,
		Format:  target.format,
		URL:     target.target,
		Ext:     target.ext,
	})
	if err != nil {
		if cw.written == 0 {
			w.Header().Del("Accept-Ranges")
			respondErr(ctx, w, err)
			return
		}
		logging.FromContext(ctx).Warn("proxy stream aborted", "error", err, "jobId", job.ID, "bytes", cw.written)
	}
}

func (h ProxyHandler) serveStaged(w http.ResponseWriter, r *http.Request, job proxy.Job, contentType string) {
	f, err := os.Open(job.FilePath)
	if err != nil {
		respondErr(r.Context(), w, fmt.Errorf("open staged file: %w", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondErr(r.Context(), w, fmt.Errorf("stat staged file: %w", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, filepath.Base(job.FilePath), info.ModTime(), f)
}

// selectFormat maps the request onto an extractor format selector. An itag
// is looked up in the video's formats for its container; named selectors
// (best, bestvideo, bestaudio) need no lookup.
func (h ProxyHandler) selectFormat(ctx context.Context, videoID, rawURL, itag, selector string) (streamTarget, error) {
	target := rawURL
	if target == "" {
		if !extractor.ValidVideoID(videoID) {
			return streamTarget{}, invalid(fmt.Errorf("invalid video id %q", videoID))
		}
		target = extractor.VideoURL(videoID)
	}

	if itag == "" {
		selector = firstNonEmpty(selector, "best")
		ext, ok := formatSelectors[selector]
		if !ok {
			return streamTarget{}, invalid(fmt.Errorf("unknown format %q", selector))
		}
		return streamTarget{target: target, format: selector, ext: ext, contentType: contentTypeFor(ext, selector == "bestaudio")}, nil
	}

	if proxy.SanitizeToken(itag) != itag {
		return streamTarget{}, invalid(fmt.Errorf("invalid itag %q", itag))
	}
	d := gateway.Descriptor{Class: gateway.ClassVideo, ID: videoID}
	if rawURL != "" {
		d = gateway.Descriptor{Class: gateway.ClassExtract, URL: rawURL}
	}
	video, _, err := gateway.ResolveAs[models.Video](ctx, h.Resolver, d)
	if err != nil {
		return streamTarget{}, err
	}

	container, mime, ok := findFormat(video, itag)
	if !ok {
		if rawURL == "" {
			return streamTarget{}, fmt.Errorf("format %s of %s: %w", itag, videoID, gateway.ErrNotFound)
		}
		// External sites renumber their formats between extractions.
		audio := strings.HasSuffix(itag, "a")
		fallback := "best"
		if audio {
			fallback = "bestaudio"
		}
		logging.FromContext(ctx).Info("itag not found, using quality fallback", "itag", itag, "format", fallback)
		return streamTarget{target: target, format: fallback, ext: formatSelectors[fallback], contentType: contentTypeFor(formatSelectors[fallback], audio)}, nil
	}

	ext := proxy.SanitizeExt(container)
	contentType, _, _ := strings.Cut(mime, ";")
	if contentType = strings.TrimSpace(contentType); contentType == "" {
		contentType = contentTypeFor(ext, false)
	}
	return streamTarget{target: target, format: itag, ext: ext, contentType: contentType}, nil
}

func contentTypeFor(ext string, audio bool) string {
	if audio {
		if ext == "m4a" {
			return "audio/mp4"
		}
		return "audio/" + ext
	}
	return "video/" + ext
}

// countingWriter records whether the response has started.
type countingWriter struct {
	http.ResponseWriter
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.written += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
