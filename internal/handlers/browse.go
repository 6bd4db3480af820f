package handlers

import (
	"net/http"

	"github.com/yattee/server/internal/gateway"
)

// BrowseHandler serves search, playlists and the discovery lists.
type BrowseHandler struct {
	Resolver Resolver
}

// Search handles GET /api/v1/search?q=&type=&page=&sort=&date=&duration=.
func (h BrowseHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.Descriptor{Class: gateway.ClassSearch})
}

// Suggestions handles GET /api/v1/search/suggestions?q=.
func (h BrowseHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.Descriptor{Class: gateway.ClassSearchSuggestions})
}

// Trending handles GET /api/v1/trending?region=&type=.
func (h BrowseHandler) Trending(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.Descriptor{Class: gateway.ClassTrending})
}

// Popular handles GET /api/v1/popular.
func (h BrowseHandler) Popular(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.Descriptor{Class: gateway.ClassPopular})
}

// Playlist handles GET /api/v1/playlists/{id}.
func (h BrowseHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, gateway.Descriptor{Class: gateway.ClassPlaylist, ID: r.PathValue("id")})
}

func (h BrowseHandler) resolve(w http.ResponseWriter, r *http.Request, d gateway.Descriptor) {
	ctx := r.Context()
	d = descriptorFromQuery(r, d)
	d.URL = ""
	res, err := h.Resolver.Resolve(ctx, d)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, res.Data)
}
