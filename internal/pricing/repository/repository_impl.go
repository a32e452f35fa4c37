package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveByCredits(ctx context.Context, db *gorm.DB, credits int64) (*pricingdomain.CreditPackage, error) {
	var pkg pricingdomain.CreditPackage
	err := db.WithContext(ctx).Raw(
		`SELECT id, credits, price, is_active, created_at, updated_at
		 FROM credit_packages
		 WHERE credits = ? AND is_active = TRUE`,
		credits,
	).Scan(&pkg).Error
	if err != nil {
		return nil, err
	}
	if pkg.ID == 0 {
		return nil, nil
	}
	return &pkg, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]pricingdomain.CreditPackage, error) {
	var packages []pricingdomain.CreditPackage
	err := db.WithContext(ctx).Raw(
		`SELECT id, credits, price, is_active, created_at, updated_at
		 FROM credit_packages ORDER BY credits ASC`,
	).Scan(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pkg *pricingdomain.CreditPackage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_packages (id, credits, price, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pkg.ID,
		pkg.Credits,
		pkg.Price,
		pkg.IsActive,
		pkg.CreatedAt,
		pkg.UpdatedAt,
	).Error
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE credit_packages
		 SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		active,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
