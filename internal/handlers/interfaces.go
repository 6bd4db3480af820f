package handlers

import (
	"context"
	"io"
	"time"

	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/proxy"
	"github.com/yattee/server/internal/scheduler"
	"github.com/yattee/server/internal/settings"
	"github.com/yattee/server/internal/sites"
)

// Resolver looks up resources through the backend gateway.
type Resolver interface {
	gateway.Resolver
	CaptionContent(ctx context.Context, videoID, lang string, auto bool, format string) (gateway.CaptionTrack, error)
}

// FeedRefresher triggers background channel fetches.
type FeedRefresher interface {
	RefreshInBackground(channels []models.WatchedChannel) bool
	RefreshAll() bool
	Fetching(channelID string) bool
	Forget(channelID string)
	Status() scheduler.Status
}

// StreamProxy relays extractor downloads to clients.
type StreamProxy interface {
	Stream(ctx context.Context, w io.Writer, req proxy.Request) (proxy.Job, error)
	Ready(videoID, format string) (proxy.Job, bool)
}

// StreamAuthorizer issues and checks the tokens embedded in media URLs.
type StreamAuthorizer interface {
	CheckStreamToken(ctx context.Context, token, videoID string) error
	StreamToken(ctx context.Context, videoID string, ttl time.Duration) string
}

// StreamPolicy decides whether a site's streams are proxied.
type StreamPolicy interface {
	ProxyStreaming(ctx context.Context, extractor string) bool
}

// Pinger checks a backing service for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminGuard decides whether a request may use the admin endpoints.
type AdminGuard interface {
	AdminAllowed(ctx context.Context) (bool, error)
}

// SettingsManager reads and replaces the runtime settings.
type SettingsManager interface {
	Current() settings.Settings
	Update(ctx context.Context, mutate func(*settings.Settings)) (settings.Settings, error)
}

// SiteManager edits extraction sites and their credentials.
type SiteManager interface {
	Sites(ctx context.Context) ([]models.Site, error)
	Site(ctx context.Context, id int64) (models.Site, error)
	AddSite(ctx context.Context, site models.Site) (models.Site, error)
	UpdateSite(ctx context.Context, id int64, patch sites.SitePatch) (models.Site, error)
	DeleteSite(ctx context.Context, id int64) error
	AddCredential(ctx context.Context, cred models.Credential) (models.Credential, error)
}
