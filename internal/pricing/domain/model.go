package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrPackageNotFound = errors.New("package_not_found")
	ErrDuplicateCredit = errors.New("duplicate_credit_amount")
)

// CreditPackage maps a fixed credit amount to a fixed price.
type CreditPackage struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Credits   int64        `json:"credits" gorm:"not null;uniqueIndex:ux_credit_packages_credits"`
	Price     int64        `json:"price" gorm:"not null"`
	IsActive  bool         `json:"is_active" gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (CreditPackage) TableName() string { return "credit_packages" }

// Service quotes prices for credit purchases. Amounts matching an active
// package use the package price; anything else pays the flat per-credit rate
// up to the flexible-amount ceiling.
type Service interface {
	Quote(ctx context.Context, credits int64) (int64, error)
	ListPackages(ctx context.Context) ([]CreditPackage, error)
	CreatePackage(ctx context.Context, credits, price int64) (*CreditPackage, error)
	SetPackageActive(ctx context.Context, id snowflake.ID, active bool) error
}

type Repository interface {
	FindActiveByCredits(ctx context.Context, db *gorm.DB, credits int64) (*CreditPackage, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]CreditPackage, error)
	Insert(ctx context.Context, db *gorm.DB, pkg *CreditPackage) error
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) (bool, error)
}
