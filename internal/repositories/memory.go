package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
	"github.com/yattee/server/internal/sites"
)

// MemoryUserRepository keeps users in process memory for the database-less mode.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]models.User
}

// NewMemoryUserRepository returns an empty user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]models.User)}
}

// Create implements UserRepository.
func (r *MemoryUserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return models.User{}, ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.Username] = user
	return user, nil
}

// FindByUsername implements UserRepository.
func (r *MemoryUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[username]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// HasAny implements UserRepository.
func (r *MemoryUserRepository) HasAny(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users) > 0, nil
}

// UpsertAdmin implements UserRepository.
func (r *MemoryUserRepository) UpsertAdmin(ctx context.Context, username, passwordHash string) error {
	r.mu.Lock()
	user, ok := r.users[username]
	if ok {
		user.PasswordHash = passwordHash
		user.IsAdmin = true
		r.users[username] = user
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	_, err := r.Create(ctx, models.User{Username: username, PasswordHash: passwordHash, IsAdmin: true})
	return err
}

// TouchLogin implements UserRepository.
func (r *MemoryUserRepository) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, user := range r.users {
		if user.ID == id {
			t := at.UTC()
			user.LastLogin = &t
			r.users[name] = user
			return nil
		}
	}
	return ErrNotFound
}

var _ UserRepository = (*MemoryUserRepository)(nil)

// MemorySiteRepository keeps extraction sites in process memory.
type MemorySiteRepository struct {
	mu         sync.RWMutex
	nextSiteID int64
	nextCredID int64
	sites      map[int64]models.Site
}

// NewMemorySiteRepository returns an empty site repository.
func NewMemorySiteRepository() *MemorySiteRepository {
	return &MemorySiteRepository{sites: make(map[int64]models.Site)}
}

// ListSites implements sites.Repository.
func (r *MemorySiteRepository) ListSites(ctx context.Context) ([]models.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]models.Site, 0, len(r.sites))
	for _, site := range r.sites {
		site.Credentials = append([]models.Credential(nil), site.Credentials...)
		list = append(list, site)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// CreateSite implements sites.Repository.
func (r *MemorySiteRepository) CreateSite(ctx context.Context, site models.Site) (models.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sites {
		if existing.Name == site.Name {
			return models.Site{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	r.nextSiteID++
	site.ID = r.nextSiteID
	site.CreatedAt = now
	site.UpdatedAt = now
	site.Credentials = nil
	r.sites[site.ID] = site
	return site, nil
}

// SetSiteEnabled implements sites.Repository.
func (r *MemorySiteRepository) SetSiteEnabled(ctx context.Context, id int64, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	site, ok := r.sites[id]
	if !ok {
		return sites.ErrNotFound
	}
	site.Enabled = enabled
	site.UpdatedAt = time.Now().UTC()
	r.sites[id] = site
	return nil
}

// UpdateSite implements sites.Repository.
func (r *MemorySiteRepository) UpdateSite(ctx context.Context, site models.Site) (models.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.sites[site.ID]
	if !ok {
		return models.Site{}, sites.ErrNotFound
	}
	for id, other := range r.sites {
		if id != site.ID && other.Name == site.Name {
			return models.Site{}, ErrConflict
		}
	}
	existing.Name = site.Name
	existing.ExtractorPattern = site.ExtractorPattern
	existing.Enabled = site.Enabled
	existing.Priority = site.Priority
	existing.ProxyStreaming = site.ProxyStreaming
	existing.UpdatedAt = time.Now().UTC()
	r.sites[site.ID] = existing
	existing.Credentials = append([]models.Credential(nil), existing.Credentials...)
	return existing, nil
}

// DeleteSite implements sites.Repository.
func (r *MemorySiteRepository) DeleteSite(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sites[id]; !ok {
		return sites.ErrNotFound
	}
	delete(r.sites, id)
	return nil
}

// AddCredential implements sites.Repository.
func (r *MemorySiteRepository) AddCredential(ctx context.Context, cred models.Credential) (models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	site, ok := r.sites[cred.SiteID]
	if !ok {
		return models.Credential{}, sites.ErrNotFound
	}
	r.nextCredID++
	cred.ID = r.nextCredID
	site.Credentials = append(site.Credentials, cred)
	r.sites[site.ID] = site
	return cred, nil
}

var _ sites.Repository = (*MemorySiteRepository)(nil)

// MemorySettingsRepository holds the settings document for the database-less mode.
type MemorySettingsRepository struct {
	mu    sync.Mutex
	saved *settings.Settings
}

// Load implements settings.Repository.
func (r *MemorySettingsRepository) Load(ctx context.Context) (settings.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		return settings.Settings{}, settings.ErrNotFound
	}
	return *r.saved, nil
}

// Save implements settings.Repository.
func (r *MemorySettingsRepository) Save(ctx context.Context, s settings.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = &s
	return nil
}

var _ settings.Repository = (*MemorySettingsRepository)(nil)
