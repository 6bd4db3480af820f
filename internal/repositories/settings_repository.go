package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yattee/server/internal/db"
	"github.com/yattee/server/internal/settings"
)

// PostgresSettingsRepository stores the runtime settings as one JSON document.
type PostgresSettingsRepository struct {
	pool db.Pool
}

// NewPostgresSettingsRepository constructs a settings repository backed by PostgreSQL.
func NewPostgresSettingsRepository(pool db.Pool) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{pool: pool}
}

// Load reads the stored document. Fields missing from an older document keep
// their defaults.
func (r *PostgresSettingsRepository) Load(ctx context.Context) (settings.Settings, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var raw []byte
	if err := conn.QueryRow(ctx, `SELECT document FROM settings WHERE id = 1`).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings.Settings{}, settings.ErrNotFound
		}
		return settings.Settings{}, fmt.Errorf("select settings: %w", err)
	}

	s := settings.Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		return settings.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Save replaces the stored document.
func (r *PostgresSettingsRepository) Save(ctx context.Context, s settings.Settings) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO settings (id, document, updated_at)
        VALUES (1, $1, NOW())
        ON CONFLICT (id)
        DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
    `, doc)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

var _ settings.Repository = (*PostgresSettingsRepository)(nil)
