package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/models"
)

// VideoHandler serves single-video resources.
type VideoHandler struct {
	Resolver Resolver
	Auth     StreamAuthorizer
	Sites    StreamPolicy
	TokenTTL time.Duration
}

// Video handles GET /api/v1/videos/{id}.
func (h VideoHandler) Video(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d := descriptorFromQuery(r, gateway.Descriptor{Class: gateway.ClassVideo, ID: r.PathValue("id")})
	d.URL = ""

	video, _, err := gateway.ResolveAs[models.Video](ctx, h.Resolver, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, h.links(r, video, "youtube").video(video))
}

// Extract handles GET /api/v1/extract?url= for any supported site.
func (h VideoHandler) Extract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d := gateway.Descriptor{Class: gateway.ClassExtract, URL: r.URL.Query().Get("url")}

	video, _, err := gateway.ResolveAs[models.Video](ctx, h.Resolver, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, h.links(r, video, video.Extractor).video(video))
}

// ExtractChannel handles GET /api/v1/extract/channel?url=&page=.
func (h VideoHandler) ExtractChannel(w http.ResponseWriter, r *http.Request) {
	d := gateway.Descriptor{
		Class: gateway.ClassExtractChannel,
		URL:   r.URL.Query().Get("url"),
		Page:  positiveInt(r.URL.Query().Get("page"), 1),
	}
	h.resolve(w, r, d)
}

// Comments handles GET /api/v1/comments/{id}.
func (h VideoHandler) Comments(w http.ResponseWriter, r *http.Request) {
	d := descriptorFromQuery(r, gateway.Descriptor{Class: gateway.ClassComments, ID: r.PathValue("id")})
	h.resolve(w, r, d)
}

// Storyboards handles GET /api/v1/storyboards/{id}.
func (h VideoHandler) Storyboards(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.Descriptor{Class: gateway.ClassStoryboards, ID: r.PathValue("id")})
}

// Captions handles GET /api/v1/captions/{id}.
func (h VideoHandler) Captions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := checkToken(h.Auth, r, id); err != nil {
		respondErr(ctx, w, err)
		return
	}

	d := descriptorFromQuery(r, gateway.Descriptor{Class: gateway.ClassCaptions, ID: id})
	d.URL = ""
	captions, _, err := gateway.ResolveAs[models.Captions](ctx, h.Resolver, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	links := streamLinks{base: baseURL(r), token: r.URL.Query().Get("token")}
	respondJSON(ctx, w, http.StatusOK, links.captions(captions))
}

// CaptionContent handles GET /api/v1/captions/{id}/content?lang=&auto=&format=.
func (h VideoHandler) CaptionContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	q := r.URL.Query()
	if err := checkToken(h.Auth, r, id); err != nil {
		respondErr(ctx, w, err)
		return
	}

	auto, _ := strconv.ParseBool(q.Get("auto"))
	track, err := h.Resolver.CaptionContent(ctx, id, q.Get("lang"), auto, q.Get("format"))
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", track.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(track.Data)
}

// Thumbnail handles GET /api/v1/thumbnails/{id}/{file}.
func (h VideoHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := checkToken(h.Auth, r, id); err != nil {
		respondErr(ctx, w, err)
		return
	}

	d := gateway.Descriptor{Class: gateway.ClassThumbnails, ID: id, File: r.PathValue("file")}
	d.ForceInvidious = optionalBool(r.URL.Query().Get("invidious"))
	image, _, err := gateway.ResolveAs[models.ThumbnailImage](ctx, h.Resolver, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", image.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(image.Data)
}

func (h VideoHandler) resolve(w http.ResponseWriter, r *http.Request, d gateway.Descriptor) {
	ctx := r.Context()
	res, err := h.Resolver.Resolve(ctx, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, res.Data)
}

// links decides per request whether streams are proxied: the proxy query
// parameter wins over the site's setting.
func (h VideoHandler) links(r *http.Request, video models.Video, site string) streamLinks {
	ctx := r.Context()
	proxied := true
	if override := optionalBool(r.URL.Query().Get("proxy")); override != nil {
		proxied = *override
	} else if h.Sites != nil {
		proxied = h.Sites.ProxyStreaming(ctx, firstNonEmpty(site, "youtube"))
	}
	var token string
	if h.Auth != nil {
		token = h.Auth.StreamToken(ctx, video.VideoID, h.TokenTTL)
	}
	return streamLinks{base: baseURL(r), token: token, proxy: proxied}
}

func checkToken(a StreamAuthorizer, r *http.Request, videoID string) error {
	if a == nil {
		return nil
	}
	return a.CheckStreamToken(r.Context(), r.URL.Query().Get("token"), videoID)
}
