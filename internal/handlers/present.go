package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/yattee/server/internal/auth"
	"github.com/yattee/server/internal/models"
)

// baseURL is the externally visible origin of the server as seen by the client.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); proto == "https" || proto == "http" {
		scheme = proto
	}
	host := r.Host
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
		host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return scheme + "://" + host
}

// streamLinks rewrites the server-relative and stream URLs of a video for one client.
type streamLinks struct {
	base  string
	token string
	proxy bool
}

func (l streamLinks) local(path string) string {
	if !strings.HasPrefix(path, "/") {
		return path
	}
	u := l.base + path
	if l.token != "" {
		u = auth.AppendToken(u, url.QueryEscape(l.token))
	}
	return u
}

func (l streamLinks) proxyURL(v models.Video, itag string) string {
	q := url.Values{"itag": {itag}}
	if v.OriginalURL != "" {
		q.Set("url", v.OriginalURL)
	}
	return l.local("/proxy/fast/" + url.PathEscape(v.VideoID) + "?" + q.Encode())
}

func (l streamLinks) video(v models.Video) models.Video {
	captions := make([]models.Caption, len(v.Captions))
	for i, c := range v.Captions {
		c.URL = l.local(c.URL)
		captions[i] = c
	}
	v.Captions = captions

	if !l.proxy {
		return v
	}
	streams := make([]models.FormatStream, len(v.FormatStreams))
	for i, f := range v.FormatStreams {
		if f.Itag != "" {
			f.URL = l.proxyURL(v, f.Itag)
			f.HTTPHeaders = nil
		}
		streams[i] = f
	}
	v.FormatStreams = streams

	adaptive := make([]models.AdaptiveFormat, len(v.AdaptiveFormats))
	for i, f := range v.AdaptiveFormats {
		if f.Itag != "" {
			f.URL = l.proxyURL(v, f.Itag)
			f.HTTPHeaders = nil
		}
		adaptive[i] = f
	}
	v.AdaptiveFormats = adaptive
	return v
}

func (l streamLinks) captions(c models.Captions) models.Captions {
	out := make([]models.Caption, len(c.Captions))
	for i, caption := range c.Captions {
		caption.URL = l.local(caption.URL)
		out[i] = caption
	}
	return models.Captions{Captions: out}
}

// findFormat returns the container and MIME type of itag. Extractor format
// ids may carry a suffix such as 251-drc, which still matches 251.
func findFormat(v models.Video, itag string) (container, mime string, ok bool) {
	match := func(id string) bool { return id == itag || strings.HasPrefix(id, itag+"-") }
	for _, f := range v.FormatStreams {
		if match(f.Itag) {
			return f.Container, f.Type, true
		}
	}
	for _, f := range v.AdaptiveFormats {
		if match(f.Itag) {
			return f.Container, f.Type, true
		}
	}
	return "", "", false
}
