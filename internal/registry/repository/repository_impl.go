package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() registrydomain.Repository {
	return &repo{}
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*registrydomain.Provider, error) {
	var provider registrydomain.Provider
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, api_keys, created_at, updated_at
		 FROM providers WHERE LOWER(name) = ?`,
		strings.ToLower(name),
	).Scan(&provider).Error
	if err != nil {
		return nil, err
	}
	if provider.ID == 0 {
		return nil, nil
	}
	return &provider, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]registrydomain.Provider, error) {
	var providers []registrydomain.Provider
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, api_keys, created_at, updated_at
		 FROM providers ORDER BY name ASC`,
	).Scan(&providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, provider *registrydomain.Provider) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO providers (id, name, api_keys, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		provider.ID,
		provider.Name,
		provider.APIKeys,
		provider.CreatedAt,
		provider.UpdatedAt,
	).Error
}

func (r *repo) UpdateKeys(ctx context.Context, db *gorm.DB, id snowflake.ID, apiKeys []byte) error {
	return db.WithContext(ctx).Exec(
		`UPDATE providers
		 SET api_keys = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		apiKeys,
		id,
	).Error
}

func (r *repo) ListStatus(ctx context.Context, db *gorm.DB, providerID snowflake.ID) ([]registrydomain.UpstreamKeyStatus, error) {
	var items []registrydomain.UpstreamKeyStatus
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_id, api_key, is_active, quota_exceeded, last_error,
			last_error_time, request_count, last_used, created_at, updated_at
		 FROM upstream_key_status
		 WHERE provider_id = ?
		 ORDER BY created_at ASC`,
		providerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertStatusIfMissing(ctx context.Context, db *gorm.DB, status *registrydomain.UpstreamKeyStatus) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO upstream_key_status (
			id, provider_id, api_key, is_active, quota_exceeded, last_error,
			last_error_time, request_count, last_used, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id, api_key) DO NOTHING`,
		status.ID,
		status.ProviderID,
		status.APIKey,
		status.IsActive,
		status.QuotaExceeded,
		status.LastError,
		status.LastErrorTime,
		status.RequestCount,
		status.LastUsed,
		status.CreatedAt,
		status.UpdatedAt,
	).Error
}

func (r *repo) DeleteStatusNotIn(ctx context.Context, db *gorm.DB, providerID snowflake.ID, apiKeys []string) error {
	if len(apiKeys) == 0 {
		return db.WithContext(ctx).Exec(
			`DELETE FROM upstream_key_status WHERE provider_id = ?`,
			providerID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM upstream_key_status
		 WHERE provider_id = ? AND api_key NOT IN ?`,
		providerID,
		apiKeys,
	).Error
}

func (r *repo) BestAvailable(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (*registrydomain.UpstreamKeyStatus, error) {
	var status registrydomain.UpstreamKeyStatus
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_id, api_key, is_active, quota_exceeded, last_error,
			last_error_time, request_count, last_used, created_at, updated_at
		 FROM upstream_key_status
		 WHERE provider_id = ? AND is_active = TRUE AND quota_exceeded = FALSE
		 ORDER BY last_used IS NOT NULL, last_used ASC
		 LIMIT 1`,
		providerID,
	).Scan(&status).Error
	if err != nil {
		return nil, err
	}
	if status.ID == 0 {
		return nil, nil
	}
	return &status, nil
}

func (r *repo) BestDegraded(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (*registrydomain.UpstreamKeyStatus, error) {
	var status registrydomain.UpstreamKeyStatus
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_id, api_key, is_active, quota_exceeded, last_error,
			last_error_time, request_count, last_used, created_at, updated_at
		 FROM upstream_key_status
		 WHERE provider_id = ? AND is_active = TRUE
		 ORDER BY last_error_time IS NOT NULL, last_error_time ASC
		 LIMIT 1`,
		providerID,
	).Scan(&status).Error
	if err != nil {
		return nil, err
	}
	if status.ID == 0 {
		return nil, nil
	}
	return &status, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, providerID snowflake.ID, apiKey string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE upstream_key_status
		 SET last_used = CURRENT_TIMESTAMP,
		     last_error = NULL,
		     last_error_time = NULL,
		     request_count = request_count + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE provider_id = ? AND api_key = ?`,
		providerID,
		apiKey,
	).Error
}

func (r *repo) MarkError(ctx context.Context, db *gorm.DB, providerID snowflake.ID, apiKey string, message string, quotaExceeded bool, deactivate bool) error {
	query := `UPDATE upstream_key_status
		 SET last_error = ?,
		     last_error_time = CURRENT_TIMESTAMP,
		     updated_at = CURRENT_TIMESTAMP`
	args := []interface{}{message}
	if quotaExceeded {
		query += `, quota_exceeded = TRUE`
	}
	if deactivate {
		query += `, is_active = FALSE`
	}
	query += ` WHERE provider_id = ? AND api_key = ?`
	args = append(args, providerID, apiKey)
	return db.WithContext(ctx).Exec(query, args...).Error
}

func (r *repo) ResetQuotas(ctx context.Context, db *gorm.DB, providerID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE upstream_key_status
		 SET quota_exceeded = FALSE,
		     last_error = NULL,
		     last_error_time = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE provider_id = ?`,
		providerID,
	).Error
}

func (r *repo) CountActive(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM upstream_key_status
		 WHERE provider_id = ? AND is_active = TRUE`,
		providerID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
