package sites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
)

var (
	// ErrNotFound is returned when a site does not exist.
	ErrNotFound = errors.New("site not found")
	// ErrInvalidSite rejects sites without a name or extractor pattern.
	ErrInvalidSite = errors.New("site name and extractor pattern are required")
	// ErrInvalidCredential rejects credentials the extractor could not use.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Repository persists sites and their credentials. ListSites returns every site
// with its credentials, highest priority first.
type Repository interface {
	ListSites(ctx context.Context) ([]models.Site, error)
	CreateSite(ctx context.Context, site models.Site) (models.Site, error)
	SetSiteEnabled(ctx context.Context, id int64, enabled bool) error
	UpdateSite(ctx context.Context, site models.Site) (models.Site, error)
	DeleteSite(ctx context.Context, id int64) error
	AddCredential(ctx context.Context, cred models.Credential) (models.Credential, error)
}

const defaultListTTL = 30 * time.Second

var knownCredentialTypes = map[models.CredentialType]bool{
	models.CredentialCookiesFile:    true,
	models.CredentialCookiesBrowser: true,
	models.CredentialLogin:          true,
	models.CredentialUsername:       true,
	models.CredentialPassword:       true,
	models.CredentialVideoPassword:  true,
	models.CredentialHeader:         true,
	models.CredentialNetrc:          true,
	models.CredentialNetrcLocation:  true,
	models.CredentialAPMSO:          true,
	models.CredentialAPUsername:     true,
	models.CredentialAPPassword:     true,
}

// DefaultSite is the site a fresh installation starts with: YouTube, enabled,
// streamed directly.
func DefaultSite() models.Site {
	return models.Site{Name: "YouTube", ExtractorPattern: models.SiteYouTube, Enabled: true, Priority: 100}
}

// Registry answers site questions for the gateway and the extractor. Site rows
// are cached briefly; writes through the registry drop the cached list.
type Registry struct {
	repo   Repository
	cipher *Cipher
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	cached   []models.Site
	cachedAt time.Time
}

// NewRegistry returns a registry over repo. cipher may be nil when no
// credentials are encrypted.
func NewRegistry(repo Repository, cipher *Cipher) *Registry {
	return &Registry{repo: repo, cipher: cipher, ttl: defaultListTTL, now: time.Now}
}

// Sites returns every configured site.
func (r *Registry) Sites(ctx context.Context) ([]models.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.now().Sub(r.cachedAt) < r.ttl {
		return r.cached, nil
	}
	list, err := r.repo.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	if list == nil {
		list = []models.Site{}
	}
	r.cached = list
	r.cachedAt = r.now()
	return list, nil
}

// IsEnabled reports whether an enabled site's pattern matches extractor.
func (r *Registry) IsEnabled(ctx context.Context, extractor string) (bool, error) {
	site, err := r.match(ctx, extractor)
	if err != nil {
		return false, err
	}
	return site != nil, nil
}

// URLEnabled reports whether rawURL belongs to an enabled site, along with the
// extractor hint used for the decision.
func (r *Registry) URLEnabled(ctx context.Context, rawURL string) (bool, string, error) {
	hint := ExtractorHint(rawURL)
	if hint == "" {
		return false, "", nil
	}
	ok, err := r.IsEnabled(ctx, hint)
	return ok, hint, err
}

// ProxyStreaming reports whether streams of extractor should go through the
// proxy. Unknown extractors are proxied.
func (r *Registry) ProxyStreaming(ctx context.Context, extractor string) bool {
	site, err := r.match(ctx, extractor)
	if err != nil {
		logging.FromContext(ctx).Warn("site lookup failed", "extractor", extractor, "error", err)
		return true
	}
	if site == nil {
		return true
	}
	return site.ProxyStreaming
}

// CredentialsFor returns the decrypted credentials of every enabled site
// matching target's extractor hint. Values that fail to decrypt are skipped.
func (r *Registry) CredentialsFor(ctx context.Context, target string) ([]models.Credential, error) {
	hint := ExtractorHint(target)
	if hint == "" {
		return nil, nil
	}
	list, err := r.Sites(ctx)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	var creds []models.Credential
	for _, site := range list {
		if !site.Enabled || !MatchPattern(hint, site.ExtractorPattern) {
			continue
		}
		for _, cred := range site.Credentials {
			if cred.Encrypted {
				if r.cipher == nil {
					logger.Error("encrypted credential without key", "siteId", site.ID, "credentialId", cred.ID)
					continue
				}
				plain, err := r.cipher.Decrypt(cred.Value)
				if err != nil {
					logger.Error("credential decryption failed", "siteId", site.ID, "credentialId", cred.ID)
					continue
				}
				cred.Value = plain
				cred.Encrypted = false
			}
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// AddSite creates a site.
func (r *Registry) AddSite(ctx context.Context, site models.Site) (models.Site, error) {
	site.Name = strings.TrimSpace(site.Name)
	site.ExtractorPattern = strings.TrimSpace(site.ExtractorPattern)
	if site.Name == "" || site.ExtractorPattern == "" {
		return models.Site{}, ErrInvalidSite
	}
	created, err := r.repo.CreateSite(ctx, site)
	if err != nil {
		return models.Site{}, err
	}
	r.invalidate()
	return created, nil
}

// SetEnabled toggles a site.
func (r *Registry) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := r.repo.SetSiteEnabled(ctx, id, enabled); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// SitePatch names the site fields to change. Nil fields are kept.
type SitePatch struct {
	Name             *string `json:"name"`
	ExtractorPattern *string `json:"extractor_pattern"`
	Enabled          *bool   `json:"enabled"`
	Priority         *int    `json:"priority"`
	ProxyStreaming   *bool   `json:"proxy_streaming"`
}

// Site returns one site read straight from the repository.
func (r *Registry) Site(ctx context.Context, id int64) (models.Site, error) {
	list, err := r.repo.ListSites(ctx)
	if err != nil {
		return models.Site{}, fmt.Errorf("list sites: %w", err)
	}
	for _, site := range list {
		if site.ID == id {
			return site, nil
		}
	}
	return models.Site{}, ErrNotFound
}

// UpdateSite applies patch to site id.
func (r *Registry) UpdateSite(ctx context.Context, id int64, patch SitePatch) (models.Site, error) {
	site, err := r.Site(ctx, id)
	if err != nil {
		return models.Site{}, err
	}
	if patch.Name != nil {
		site.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.ExtractorPattern != nil {
		site.ExtractorPattern = strings.TrimSpace(*patch.ExtractorPattern)
	}
	if patch.Enabled != nil {
		site.Enabled = *patch.Enabled
	}
	if patch.Priority != nil {
		site.Priority = *patch.Priority
	}
	if patch.ProxyStreaming != nil {
		site.ProxyStreaming = *patch.ProxyStreaming
	}
	if site.Name == "" || site.ExtractorPattern == "" {
		return models.Site{}, ErrInvalidSite
	}
	updated, err := r.repo.UpdateSite(ctx, site)
	if err != nil {
		return models.Site{}, err
	}
	r.invalidate()
	return updated, nil
}

// DeleteSite removes a site with its credentials.
func (r *Registry) DeleteSite(ctx context.Context, id int64) error {
	if err := r.repo.DeleteSite(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// AddCredential stores a credential, sealing sensitive types.
func (r *Registry) AddCredential(ctx context.Context, cred models.Credential) (models.Credential, error) {
	if !knownCredentialTypes[cred.Type] || cred.Value == "" {
		return models.Credential{}, fmt.Errorf("%w: type %q", ErrInvalidCredential, cred.Type)
	}
	if cred.Type == models.CredentialHeader {
		if err := extractor.ValidateHeader(cred.Key, cred.Value); err != nil {
			return models.Credential{}, fmt.Errorf("%w: header: %w", ErrInvalidCredential, err)
		}
	}
	if ShouldEncrypt(cred.Type) {
		if r.cipher == nil {
			return models.Credential{}, errors.New("credentials key not configured")
		}
		sealed, err := r.cipher.Encrypt(cred.Value)
		if err != nil {
			return models.Credential{}, err
		}
		cred.Value = sealed
		cred.Encrypted = true
	}
	created, err := r.repo.AddCredential(ctx, cred)
	if err != nil {
		return models.Credential{}, err
	}
	r.invalidate()
	return created, nil
}

func (r *Registry) match(ctx context.Context, extractor string) (*models.Site, error) {
	list, err := r.Sites(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Enabled && MatchPattern(extractor, list[i].ExtractorPattern) {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}
