package handlers

import (
	"net/http"

	"github.com/yattee/server/internal/gateway"
)

// ChannelHandler serves channel pages. Non-YouTube channels pass their page
// URL in the url query parameter.
type ChannelHandler struct {
	Resolver Resolver
}

// Channel handles GET /api/v1/channels/{id}.
func (h ChannelHandler) Channel(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.ClassChannel, "")
}

// Videos handles GET /api/v1/channels/{id}/videos.
func (h ChannelHandler) Videos(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.ClassChannelVideos, "")
}

// Playlists handles GET /api/v1/channels/{id}/playlists.
func (h ChannelHandler) Playlists(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.ClassChannelPlaylists, "")
}

// Search handles GET /api/v1/channels/{id}/search?q=.
func (h ChannelHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.ClassChannelSearch, "")
}

// Tab handles GET /api/v1/channels/{id}/{tab} for the shorts and streams tabs.
func (h ChannelHandler) Tab(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.ClassChannelTab, r.PathValue("tab"))
}

func (h ChannelHandler) resolve(w http.ResponseWriter, r *http.Request, class gateway.Class, tab string) {
	ctx := r.Context()
	d := descriptorFromQuery(r, gateway.Descriptor{Class: class, ID: r.PathValue("id"), Tab: tab})
	res, err := h.Resolver.Resolve(ctx, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, res.Data)
}
