package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/repositories"
	"github.com/yattee/server/internal/settings"
	"github.com/yattee/server/internal/sites"
)

type stubGuard struct{ allowed bool }

func (g stubGuard) AdminAllowed(context.Context) (bool, error) { return g.allowed, nil }

type countingExtractor struct{ calls int }

func (e *countingExtractor) Extract(ctx context.Context, target string, opts extractor.Options) ([]json.RawMessage, error) {
	e.calls++
	return []json.RawMessage{json.RawMessage(`{"id":"dQw4w9WgXcQ","title":"video","extractor":"youtube"}`)}, nil
}

func newAdminServer(t *testing.T, allowed bool) (*testServer, *settings.Store, *sites.Registry) {
	t.Helper()
	store := settings.NewStore(settings.Defaults(), &repositories.MemorySettingsRepository{})
	registry := sites.NewRegistry(repositories.NewMemorySiteRepository(), nil)
	ts := newTestServer(t, Dependencies{
		Admin:         stubGuard{allowed: allowed},
		SettingsAdmin: store,
		SiteAdmin:     registry,
	})
	return ts, store, registry
}

func TestSettingsUpdateInvalidatesGatewayCache(t *testing.T) {
	store := settings.NewStore(settings.Defaults(), &repositories.MemorySettingsRepository{})
	ext := &countingExtractor{}
	gw := gateway.New(gateway.Deps{Settings: store, Extractor: ext})
	store.OnChange(gw.SettingsChanged)
	ts := newTestServer(t, Dependencies{
		Admin:         stubGuard{allowed: true},
		SettingsAdmin: store,
	})

	d := gateway.Descriptor{Class: gateway.ClassVideo, ID: "dQw4w9WgXcQ"}
	ctx := context.Background()
	if _, err := gw.Resolve(ctx, d); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res, err := gw.Resolve(ctx, d); err != nil || !res.FromCache {
		t.Fatalf("expected cached video, got %+v err=%v", res, err)
	}

	rec := ts.do(http.MethodPut, "/api/v1/admin/settings", map[string]any{
		"invidious_instance":     "https://invidious.example",
		"invidious_proxy_videos": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[settings.Settings](t, rec)
	if body.InvidiousInstance != "https://invidious.example" || body.InvidiousProxyVideos {
		t.Fatalf("unexpected settings %+v", body)
	}
	if body.YTDLPTimeout != settings.Defaults().YTDLPTimeout {
		t.Fatal("fields missing from the body must keep their value")
	}

	res, err := gw.Resolve(ctx, d)
	if err != nil {
		t.Fatalf("Resolve() after update error = %v", err)
	}
	if res.FromCache || ext.calls != 2 {
		t.Fatalf("expected cache invalidated by instance change, fromCache=%v calls=%d", res.FromCache, ext.calls)
	}
}

func TestSettingsUpdateRejectsInvalidInstance(t *testing.T) {
	ts, store, _ := newAdminServer(t, true)

	rec := ts.do(http.MethodPut, "/api/v1/admin/settings", map[string]any{"invidious_instance": "ftp://nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if store.Current().InvidiousInstance != "" {
		t.Fatal("invalid update must not be applied")
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts, _, _ := newAdminServer(t, false)

	if rec := ts.do(http.MethodGet, "/api/v1/admin/settings", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/v1/admin/sites", map[string]any{"name": "Vimeo", "extractor_pattern": "vimeo"}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestSiteLifecycle(t *testing.T) {
	ts, _, registry := newAdminServer(t, true)
	ctx := context.Background()

	rec := ts.do(http.MethodPost, "/api/v1/admin/sites", map[string]any{
		"name":              "Vimeo",
		"extractor_pattern": "vimeo",
		"enabled":           false,
		"credentials":       []map[string]string{{"credential_type": "username", "value": "me"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[siteResponse](t, rec)
	if created.Enabled || !created.ProxyStreaming || created.CredentialCount != 1 || !created.Credentials[0].HasValue {
		t.Fatalf("unexpected site %+v", created)
	}
	if ok, _ := registry.IsEnabled(ctx, "vimeo"); ok {
		t.Fatal("site created disabled")
	}

	if rec := ts.do(http.MethodPost, "/api/v1/admin/sites", map[string]any{"name": "Vimeo", "extractor_pattern": "vimeo"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate name got %d", rec.Code)
	}

	rec = ts.do(http.MethodPut, "/api/v1/admin/sites/1", map[string]any{"enabled": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if ok, _ := registry.IsEnabled(ctx, "vimeo"); !ok {
		t.Fatal("expected site enabled after update")
	}

	rec = ts.do(http.MethodPost, "/api/v1/admin/sites/1/credentials", map[string]string{"credential_type": "bogus", "value": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown credential type got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPut, "/api/v1/admin/sites/9", map[string]any{"enabled": true}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPut, "/api/v1/admin/sites/abc", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	if rec := ts.do(http.MethodDelete, "/api/v1/admin/sites/1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	list := decode[[]siteResponse](t, ts.do(http.MethodGet, "/api/v1/admin/sites", nil))
	if len(list) != 0 {
		t.Fatalf("expected no sites, got %+v", list)
	}
}
