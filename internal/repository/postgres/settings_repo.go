package postgres

import (
	"context"
	"fmt"

	"github.com/farmflow/notify/internal/settings"
)

var _ settings.Source = (*SettingsRepo)(nil)

// SettingsRepo is the raw lookup behind the cached settings provider.
type SettingsRepo struct{ db *DB }

func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

const qSettingGet = `
SELECT value FROM app_settings WHERE key = $1;`

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var v string
	if err := r.db.Pool.QueryRow(ctx, qSettingGet, key).Scan(&v); err != nil {
		return "", fmt.Errorf("read setting %q: %w", key, mapNoRows(err))
	}
	return v, nil
}
