package repository

import (
	"context"

	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, token string) (*ledgerdomain.Key, error) {
	var key ledgerdomain.Key
	err := db.WithContext(ctx).Raw(
		`SELECT id, token, is_active, credit, expires_at, activation_limit, note, created_at, updated_at
		 FROM keys WHERE token = ? AND is_active = TRUE`,
		token,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, token string) (*ledgerdomain.Key, error) {
	var key ledgerdomain.Key
	err := db.WithContext(ctx).Raw(
		`SELECT id, token, is_active, credit, expires_at, activation_limit, note, created_at, updated_at
		 FROM keys WHERE token = ?`,
		token,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *ledgerdomain.Key) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO keys (id, token, is_active, credit, expires_at, activation_limit, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.Token,
		key.IsActive,
		key.Credit,
		key.ExpiresAt,
		key.ActivationLimit,
		key.Note,
		key.CreatedAt,
		key.UpdatedAt,
	).Error
}

func (r *repo) DecrementIfAvailable(ctx context.Context, db *gorm.DB, token string, amount int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE keys
		 SET credit = credit - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE token = ? AND is_active = TRUE AND credit >= ?`,
		amount,
		token,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, token string, amount int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE keys
		 SET credit = credit + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE token = ?`,
		amount,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AdjustFloored(ctx context.Context, db *gorm.DB, token string, delta int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE keys
		 SET credit = CASE WHEN credit + ? < 0 THEN 0 ELSE credit + ? END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE token = ?`,
		delta,
		delta,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, token string, active bool) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE keys
		 SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE token = ?`,
		active,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
