package handlers

import (
	"net/http"
	"time"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Resolver  Resolver
	Feed      feed.Store
	Refresher FeedRefresher
	Proxy     StreamProxy
	Auth      StreamAuthorizer
	Sites     StreamPolicy
	// Metrics serves the Prometheus exposition; nil leaves /metrics unrouted.
	Metrics http.Handler
	// Limiter throttles the expensive endpoints per client.
	Limiter middleware.RateLimiter
	Checks  map[string]Pinger
	// Admin, SettingsAdmin and SiteAdmin back the /api/v1/admin routes,
	// which are left unrouted when SettingsAdmin is nil.
	Admin         AdminGuard
	SettingsAdmin SettingsManager
	SiteAdmin     SiteManager
	TokenTTL      time.Duration
	LookupIP      extractor.LookupFunc
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.Checks}
	videos := VideoHandler{Resolver: deps.Resolver, Auth: deps.Auth, Sites: deps.Sites, TokenTTL: deps.TokenTTL}
	channels := ChannelHandler{Resolver: deps.Resolver}
	browse := BrowseHandler{Resolver: deps.Resolver}
	feeds := FeedHandler{Store: deps.Feed, Refresher: deps.Refresher, LookupIP: deps.LookupIP}
	proxied := ProxyHandler{Proxy: deps.Proxy, Resolver: deps.Resolver, Auth: deps.Auth, LookupIP: deps.LookupIP}

	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return middleware.Limit(deps.Limiter, scope)(h)
	}

	mux.HandleFunc("GET /healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("GET /api/v1/videos/{id}", videos.Video)
	mux.HandleFunc("GET /api/v1/comments/{id}", videos.Comments)
	mux.HandleFunc("GET /api/v1/storyboards/{id}", videos.Storyboards)
	mux.HandleFunc("GET /api/v1/captions/{id}", videos.Captions)
	mux.HandleFunc("GET /api/v1/captions/{id}/content", videos.CaptionContent)
	mux.HandleFunc("GET /api/v1/thumbnails/{id}/{file}", videos.Thumbnail)
	mux.Handle("GET /api/v1/extract", limited("extract", videos.Extract))
	mux.Handle("GET /api/v1/extract/channel", limited("extract", videos.ExtractChannel))

	mux.HandleFunc("GET /api/v1/channels/{id}", channels.Channel)
	mux.HandleFunc("GET /api/v1/channels/{id}/videos", channels.Videos)
	mux.HandleFunc("GET /api/v1/channels/{id}/playlists", channels.Playlists)
	mux.HandleFunc("GET /api/v1/channels/{id}/search", channels.Search)
	mux.HandleFunc("GET /api/v1/channels/{id}/{tab}", channels.Tab)

	mux.HandleFunc("GET /api/v1/playlists/{id}", browse.Playlist)
	mux.HandleFunc("GET /api/v1/search", browse.Search)
	mux.HandleFunc("GET /api/v1/search/suggestions", browse.Suggestions)
	mux.HandleFunc("GET /api/v1/trending", browse.Trending)
	mux.HandleFunc("GET /api/v1/popular", browse.Popular)

	mux.Handle("POST /api/v1/feed", limited("feed", feeds.Feed))
	mux.HandleFunc("POST /api/v1/feed/status", feeds.Status)
	mux.Handle("POST /api/v1/feed/refresh", limited("feed-refresh", feeds.Refresh))
	mux.HandleFunc("DELETE /api/v1/feed/channels/{id}", feeds.Unwatch)

	mux.Handle("GET /proxy/fast/{id}", limited("proxy", proxied.Fast))

	if deps.SettingsAdmin != nil {
		admin := AdminHandler{Guard: deps.Admin, Settings: deps.SettingsAdmin, Sites: deps.SiteAdmin}
		mux.HandleFunc("GET /api/v1/admin/settings", admin.GetSettings)
		mux.HandleFunc("PUT /api/v1/admin/settings", admin.UpdateSettings)
		if deps.SiteAdmin != nil {
			mux.HandleFunc("GET /api/v1/admin/sites", admin.ListSites)
			mux.HandleFunc("POST /api/v1/admin/sites", admin.CreateSite)
			mux.HandleFunc("PUT /api/v1/admin/sites/{id}", admin.UpdateSite)
			mux.HandleFunc("DELETE /api/v1/admin/sites/{id}", admin.DeleteSite)
			mux.HandleFunc("POST /api/v1/admin/sites/{id}/credentials", admin.AddCredential)
		}
	}
}
