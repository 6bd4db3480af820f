package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yattee/server/internal/db"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/sites"
)

// PostgresSiteRepository persists extraction sites and their credentials.
type PostgresSiteRepository struct {
	pool db.Pool
}

// NewPostgresSiteRepository constructs a site repository backed by PostgreSQL.
func NewPostgresSiteRepository(pool db.Pool) *PostgresSiteRepository {
	return &PostgresSiteRepository{pool: pool}
}

// ListSites returns every site with its credentials, highest priority first.
func (r *PostgresSiteRepository) ListSites(ctx context.Context) ([]models.Site, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, name, extractor_pattern, enabled, priority, proxy_streaming, created_at, updated_at
        FROM sites
        ORDER BY priority DESC, id
    `)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var list []models.Site
	index := make(map[int64]int)
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.ID, &site.Name, &site.ExtractorPattern, &site.Enabled, &site.Priority, &site.ProxyStreaming, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		index[site.ID] = len(list)
		list = append(list, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	rows.Close()

	credRows, err := conn.Query(ctx, `
        SELECT id, site_id, credential_type, credential_key, credential_value, is_encrypted
        FROM site_credentials
        ORDER BY site_id, id
    `)
	if err != nil {
		return nil, fmt.Errorf("query site credentials: %w", err)
	}
	defer credRows.Close()

	for credRows.Next() {
		var (
			cred     models.Credential
			credType string
		)
		if err := credRows.Scan(&cred.ID, &cred.SiteID, &credType, &cred.Key, &cred.Value, &cred.Encrypted); err != nil {
			return nil, fmt.Errorf("scan site credential: %w", err)
		}
		cred.Type = models.CredentialType(credType)
		if i, ok := index[cred.SiteID]; ok {
			list[i].Credentials = append(list[i].Credentials, cred)
		}
	}
	if err := credRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site credentials: %w", err)
	}

	return list, nil
}

// CreateSite inserts a site without credentials.
func (r *PostgresSiteRepository) CreateSite(ctx context.Context, site models.Site) (models.Site, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Site{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	now := time.Now().UTC()
	err = conn.QueryRow(ctx, `
        INSERT INTO sites (name, extractor_pattern, enabled, priority, proxy_streaming, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        RETURNING id
    `, site.Name, site.ExtractorPattern, site.Enabled, site.Priority, site.ProxyStreaming, now).Scan(&site.ID)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return models.Site{}, ErrConflict
		}
		return models.Site{}, fmt.Errorf("insert site: %w", err)
	}
	site.CreatedAt = now
	site.UpdatedAt = now
	site.Credentials = nil
	return site, nil
}

// SetSiteEnabled toggles a site.
func (r *PostgresSiteRepository) SetSiteEnabled(ctx context.Context, id int64, enabled bool) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE sites
        SET enabled = $2, updated_at = NOW()
        WHERE id = $1
    `, id, enabled)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sites.ErrNotFound
	}
	return nil
}

// UpdateSite overwrites the editable columns of an existing site.
func (r *PostgresSiteRepository) UpdateSite(ctx context.Context, site models.Site) (models.Site, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Site{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = conn.QueryRow(ctx, `
        UPDATE sites
        SET name = $2, extractor_pattern = $3, enabled = $4, priority = $5, proxy_streaming = $6, updated_at = NOW()
        WHERE id = $1
        RETURNING created_at, updated_at
    `, site.ID, site.Name, site.ExtractorPattern, site.Enabled, site.Priority, site.ProxyStreaming).Scan(&site.CreatedAt, &site.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return models.Site{}, sites.ErrNotFound
	case pgCode(err) == codeUniqueViolation:
		return models.Site{}, ErrConflict
	case err != nil:
		return models.Site{}, fmt.Errorf("update site: %w", err)
	}
	return site, nil
}

// DeleteSite removes a site; its credentials go with it.
func (r *PostgresSiteRepository) DeleteSite(ctx context.Context, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sites.ErrNotFound
	}
	return nil
}

// AddCredential stores a credential for an existing site. The value is stored
// as given; sealing happens in the registry.
func (r *PostgresSiteRepository) AddCredential(ctx context.Context, cred models.Credential) (models.Credential, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Credential{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = conn.QueryRow(ctx, `
        INSERT INTO site_credentials (site_id, credential_type, credential_key, credential_value, is_encrypted)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, cred.SiteID, string(cred.Type), cred.Key, cred.Value, cred.Encrypted).Scan(&cred.ID)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return models.Credential{}, sites.ErrNotFound
		}
		return models.Credential{}, fmt.Errorf("insert site credential: %w", err)
	}
	return cred, nil
}

var _ sites.Repository = (*PostgresSiteRepository)(nil)
