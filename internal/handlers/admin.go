package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/repositories"
	"github.com/yattee/server/internal/settings"
	"github.com/yattee/server/internal/sites"
)

// AdminHandler manages runtime settings and extraction sites.
type AdminHandler struct {
	Guard    AdminGuard
	Settings SettingsManager
	Sites    SiteManager
}

type credentialInput struct {
	Type  models.CredentialType `json:"credential_type"`
	Key   string                `json:"key"`
	Value string                `json:"value"`
}

type siteInput struct {
	Name             string            `json:"name"`
	ExtractorPattern string            `json:"extractor_pattern"`
	Enabled          *bool             `json:"enabled"`
	Priority         int               `json:"priority"`
	ProxyStreaming   *bool             `json:"proxy_streaming"`
	Credentials      []credentialInput `json:"credentials"`
}

type credentialResponse struct {
	ID          int64                 `json:"id"`
	Type        models.CredentialType `json:"credential_type"`
	Key         string                `json:"key,omitempty"`
	HasValue    bool                  `json:"has_value"`
	IsEncrypted bool                  `json:"is_encrypted"`
}

type siteResponse struct {
	ID               int64                `json:"id"`
	Name             string               `json:"name"`
	ExtractorPattern string               `json:"extractor_pattern"`
	Enabled          bool                 `json:"enabled"`
	Priority         int                  `json:"priority"`
	ProxyStreaming   bool                 `json:"proxy_streaming"`
	CredentialCount  int                  `json:"credential_count"`
	Credentials      []credentialResponse `json:"credentials"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// GetSettings implements GET /api/v1/admin/settings.
func (h AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, h.Settings.Current())
}

// UpdateSettings implements PUT /api/v1/admin/settings. Fields missing from
// the body keep their current value.
func (h AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r) {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondErr(ctx, w, invalid(err))
		return
	}
	candidate := h.Settings.Current()
	if err := json.Unmarshal(raw, &candidate); err != nil {
		respondErr(ctx, w, invalid(err))
		return
	}

	updated, err := h.Settings.Update(ctx, func(s *settings.Settings) {
		_ = json.Unmarshal(raw, s)
	})
	if errors.Is(err, settings.ErrInvalid) {
		respondErr(ctx, w, invalid(err))
		return
	}
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	logging.FromContext(ctx).Info("settings changed through admin api")
	respondJSON(ctx, w, http.StatusOK, updated)
}

// ListSites implements GET /api/v1/admin/sites.
func (h AdminHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	list, err := h.Sites.Sites(r.Context())
	if err != nil {
		respondErr(r.Context(), w, err)
		return
	}
	out := make([]siteResponse, 0, len(list))
	for _, site := range list {
		out = append(out, presentSite(site))
	}
	respondJSON(r.Context(), w, http.StatusOK, out)
}

// CreateSite implements POST /api/v1/admin/sites.
func (h AdminHandler) CreateSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r) {
		return
	}
	var in siteInput
	if err := decodeBody(r, &in); err != nil {
		respondErr(ctx, w, invalid(err))
		return
	}

	site := models.Site{
		Name:             in.Name,
		ExtractorPattern: in.ExtractorPattern,
		Enabled:          in.Enabled == nil || *in.Enabled,
		Priority:         in.Priority,
		ProxyStreaming:   in.ProxyStreaming == nil || *in.ProxyStreaming,
	}
	created, err := h.Sites.AddSite(ctx, site)
	if err != nil {
		h.siteError(w, r, err)
		return
	}
	for _, cred := range in.Credentials {
		if _, err := h.Sites.AddCredential(ctx, models.Credential{SiteID: created.ID, Type: cred.Type, Key: cred.Key, Value: cred.Value}); err != nil {
			h.siteError(w, r, err)
			return
		}
	}
	if len(in.Credentials) > 0 {
		if created, err = h.Sites.Site(ctx, created.ID); err != nil {
			respondErr(ctx, w, err)
			return
		}
	}
	respondJSON(ctx, w, http.StatusCreated, presentSite(created))
}

// UpdateSite implements PUT /api/v1/admin/sites/{id}.
func (h AdminHandler) UpdateSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r) {
		return
	}
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	var patch sites.SitePatch
	if err := decodeBody(r, &patch); err != nil {
		respondErr(ctx, w, invalid(err))
		return
	}
	site, err := h.Sites.UpdateSite(ctx, id, patch)
	if err != nil {
		h.siteError(w, r, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, presentSite(site))
}

// DeleteSite implements DELETE /api/v1/admin/sites/{id}.
func (h AdminHandler) DeleteSite(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	if err := h.Sites.DeleteSite(r.Context(), id); err != nil {
		h.siteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCredential implements POST /api/v1/admin/sites/{id}/credentials.
func (h AdminHandler) AddCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorize(w, r) {
		return
	}
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	var in credentialInput
	if err := decodeBody(r, &in); err != nil {
		respondErr(ctx, w, invalid(err))
		return
	}
	cred, err := h.Sites.AddCredential(ctx, models.Credential{SiteID: id, Type: in.Type, Key: in.Key, Value: in.Value})
	if err != nil {
		h.siteError(w, r, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, presentCredential(cred))
}

func (h AdminHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.Guard == nil {
		respondError(r.Context(), w, http.StatusForbidden, "forbidden", "admin access required")
		return false
	}
	ok, err := h.Guard.AdminAllowed(r.Context())
	if err != nil {
		respondErr(r.Context(), w, err)
		return false
	}
	if !ok {
		respondError(r.Context(), w, http.StatusForbidden, "forbidden", "admin access required")
		return false
	}
	return true
}

func (h AdminHandler) siteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, sites.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "not_found", "site not found")
	case errors.Is(err, repositories.ErrConflict):
		respondError(ctx, w, http.StatusConflict, "conflict", "a site with this name already exists")
	case errors.Is(err, sites.ErrInvalidSite), errors.Is(err, sites.ErrInvalidCredential):
		respondErr(ctx, w, invalid(err))
	default:
		respondErr(ctx, w, err)
	}
}

func siteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(r.Context(), w, http.StatusBadRequest, "invalid_request", "site id must be a positive integer")
		return 0, false
	}
	return id, true
}

func presentSite(site models.Site) siteResponse {
	out := siteResponse{
		ID:               site.ID,
		Name:             site.Name,
		ExtractorPattern: site.ExtractorPattern,
		Enabled:          site.Enabled,
		Priority:         site.Priority,
		ProxyStreaming:   site.ProxyStreaming,
		CredentialCount:  len(site.Credentials),
		Credentials:      make([]credentialResponse, 0, len(site.Credentials)),
		CreatedAt:        site.CreatedAt,
		UpdatedAt:        site.UpdatedAt,
	}
	for _, cred := range site.Credentials {
		out.Credentials = append(out.Credentials, presentCredential(cred))
	}
	return out
}

func presentCredential(cred models.Credential) credentialResponse {
	return credentialResponse{
		ID:          cred.ID,
		Type:        cred.Type,
		Key:         cred.Key,
		HasValue:    cred.Value != "",
		IsEncrypted: cred.Encrypted,
	}
}
