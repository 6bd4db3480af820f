package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/sites"
)

func TestMemoryUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	if ok, _ := repo.HasAny(ctx); ok {
		t.Fatal("expected empty repository")
	}
	if err := repo.UpsertAdmin(ctx, "admin", "hash1"); err != nil {
		t.Fatalf("UpsertAdmin() error = %v", err)
	}
	if err := repo.UpsertAdmin(ctx, "admin", "hash2"); err != nil {
		t.Fatalf("UpsertAdmin() second call error = %v", err)
	}

	user, err := repo.FindByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("FindByUsername() error = %v", err)
	}
	if user.PasswordHash != "hash2" || !user.IsAdmin || user.ID != 1 {
		t.Fatalf("unexpected admin %+v", user)
	}
	if _, err := repo.Create(ctx, models.User{Username: "admin"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := repo.FindByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := repo.TouchLogin(ctx, user.ID, at); err != nil {
		t.Fatalf("TouchLogin() error = %v", err)
	}
	user, _ = repo.FindByUsername(ctx, "admin")
	if user.LastLogin == nil || !user.LastLogin.Equal(at) {
		t.Fatalf("last login not recorded: %v", user.LastLogin)
	}
	if err := repo.TouchLogin(ctx, 42, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestMemorySiteRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySiteRepository()

	low, err := repo.CreateSite(ctx, models.Site{Name: "vimeo", ExtractorPattern: "vimeo", Priority: 1})
	if err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}
	high, err := repo.CreateSite(ctx, models.Site{Name: "twitch", ExtractorPattern: "twitch", Priority: 5})
	if err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}
	if _, err := repo.CreateSite(ctx, models.Site{Name: "vimeo"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := repo.SetSiteEnabled(ctx, low.ID, true); err != nil {
		t.Fatalf("SetSiteEnabled() error = %v", err)
	}
	if err := repo.SetSiteEnabled(ctx, 99, true); !errors.Is(err, sites.ErrNotFound) {
		t.Fatalf("expected sites.ErrNotFound, got %v", err)
	}
	if _, err := repo.AddCredential(ctx, models.Credential{SiteID: low.ID, Type: models.CredentialCookiesFile, Value: "c"}); err != nil {
		t.Fatalf("AddCredential() error = %v", err)
	}
	if _, err := repo.AddCredential(ctx, models.Credential{SiteID: 99}); !errors.Is(err, sites.ErrNotFound) {
		t.Fatalf("expected sites.ErrNotFound, got %v", err)
	}

	list, err := repo.ListSites(ctx)
	if err != nil {
		t.Fatalf("ListSites() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != high.ID {
		t.Fatalf("sites not ordered by priority: %+v", list)
	}
	if !list[1].Enabled || len(list[1].Credentials) != 1 {
		t.Fatalf("unexpected site state %+v", list[1])
	}
}
