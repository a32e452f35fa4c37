package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	"gorm.io/gorm"
)

const proxyColumns = `id, host, port, protocol, username, password, is_active,
	location, vendor, success_count, failure_count, avg_response_time_ms,
	last_used, assigned_api_key, note, created_at, updated_at`

type repo struct{}

func Provide() pooldomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pooldomain.Proxy, error) {
	var proxy pooldomain.Proxy
	err := db.WithContext(ctx).Raw(
		`SELECT `+proxyColumns+` FROM proxies WHERE id = ?`,
		id,
	).Scan(&proxy).Error
	if err != nil {
		return nil, err
	}
	if proxy.ID == 0 {
		return nil, nil
	}
	return &proxy, nil
}

func (r *repo) FindByHostPort(ctx context.Context, db *gorm.DB, host string, port int) (*pooldomain.Proxy, error) {
	var proxy pooldomain.Proxy
	err := db.WithContext(ctx).Raw(
		`SELECT `+proxyColumns+` FROM proxies WHERE host = ? AND port = ?`,
		host,
		port,
	).Scan(&proxy).Error
	if err != nil {
		return nil, err
	}
	if proxy.ID == 0 {
		return nil, nil
	}
	return &proxy, nil
}

func (r *repo) FindByAssignedKey(ctx context.Context, db *gorm.DB, apiKey string) (*pooldomain.Proxy, error) {
	var proxy pooldomain.Proxy
	err := db.WithContext(ctx).Raw(
		`SELECT `+proxyColumns+` FROM proxies
		 WHERE assigned_api_key = ? AND is_active = TRUE`,
		apiKey,
	).Scan(&proxy).Error
	if err != nil {
		return nil, err
	}
	if proxy.ID == 0 {
		return nil, nil
	}
	return &proxy, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, proxy *pooldomain.Proxy) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO proxies (`+proxyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		proxy.ID,
		proxy.Host,
		proxy.Port,
		proxy.Protocol,
		proxy.Username,
		proxy.Password,
		proxy.IsActive,
		proxy.Location,
		proxy.Vendor,
		proxy.SuccessCount,
		proxy.FailureCount,
		proxy.AvgResponseTimeMs,
		proxy.LastUsed,
		proxy.AssignedAPIKey,
		proxy.Note,
		proxy.CreatedAt,
		proxy.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, proxy *pooldomain.Proxy) error {
	return db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET host = ?, port = ?, protocol = ?, username = ?, password = ?,
		     is_active = ?, location = ?, vendor = ?, note = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		proxy.Host,
		proxy.Port,
		proxy.Protocol,
		proxy.Username,
		proxy.Password,
		proxy.IsActive,
		proxy.Location,
		proxy.Vendor,
		proxy.Note,
		proxy.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM proxies WHERE id = ?`, id).Error
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]pooldomain.Proxy, error) {
	var proxies []pooldomain.Proxy
	err := db.WithContext(ctx).Raw(
		`SELECT ` + proxyColumns + ` FROM proxies ORDER BY created_at ASC`,
	).Scan(&proxies).Error
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]pooldomain.Proxy, error) {
	var proxies []pooldomain.Proxy
	err := db.WithContext(ctx).Raw(
		`SELECT ` + proxyColumns + ` FROM proxies
		 WHERE is_active = TRUE ORDER BY created_at ASC`,
	).Scan(&proxies).Error
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

func (r *repo) ListUnassignedActive(ctx context.Context, db *gorm.DB, limit int) ([]pooldomain.Proxy, error) {
	var proxies []pooldomain.Proxy
	err := db.WithContext(ctx).Raw(
		`SELECT `+proxyColumns+` FROM proxies
		 WHERE is_active = TRUE AND assigned_api_key IS NULL
		 ORDER BY success_count DESC, avg_response_time_ms ASC
		 LIMIT ?`,
		limit,
	).Scan(&proxies).Error
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

func (r *repo) RecordSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, elapsedMs int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET success_count = success_count + 1,
		     avg_response_time_ms = CASE
		        WHEN avg_response_time_ms = 0 THEN ?
		        ELSE (avg_response_time_ms + ?) / 2
		     END,
		     last_used = CURRENT_TIMESTAMP,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		elapsedMs,
		elapsedMs,
		id,
	).Error
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET failure_count = failure_count + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		id,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, note string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET is_active = FALSE,
		     note = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		note,
		id,
	).Error
}

func (r *repo) AssignIfFree(ctx context.Context, db *gorm.DB, id snowflake.ID, apiKey string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET assigned_api_key = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND assigned_api_key IS NULL AND is_active = TRUE`,
		apiKey,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClearAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET assigned_api_key = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND assigned_api_key IS NOT NULL`,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClearAssignmentByKey(ctx context.Context, db *gorm.DB, apiKey string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE proxies
		 SET assigned_api_key = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE assigned_api_key = ?`,
		apiKey,
	).Error
}
