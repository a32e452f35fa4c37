package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrKeyNotFound        = errors.New("key_not_found")
	ErrInsufficientCredit = errors.New("insufficient_credit")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidToken       = errors.New("invalid_token")
)

// Service is the credit ledger. ReserveCredit and GrantCredit are the only
// paths that move balances; both are single-statement conditional updates so
// concurrent callers can never overdraw a key.
type Service interface {
	FindActiveKey(ctx context.Context, token string) (*Key, error)
	CreateKey(ctx context.Context, token string, initialCredit int64, note string) (*Key, error)
	// ReserveCredit atomically decrements the balance when the key is active
	// and holds at least amount. Failure is an expected rejection, not a fault.
	ReserveCredit(ctx context.Context, token string, amount int64) (*Key, error)
	// GrantCredit atomically increments the balance. Used by payment
	// completion and by the gateway when refunding a failed upstream call.
	GrantCredit(ctx context.Context, token string, amount int64) error
	SetActive(ctx context.Context, token string, active bool) error
	// AdjustCredit applies a signed delta, flooring the balance at zero.
	AdjustCredit(ctx context.Context, token string, delta int64) (*Key, error)
}

// Repository issues the conditional SQL on behalf of the service.
type Repository interface {
	FindActive(ctx context.Context, db *gorm.DB, token string) (*Key, error)
	Find(ctx context.Context, db *gorm.DB, token string) (*Key, error)
	Insert(ctx context.Context, db *gorm.DB, key *Key) error
	// DecrementIfAvailable returns false when the key is missing, inactive, or
	// underfunded; the check and the write are one statement.
	DecrementIfAvailable(ctx context.Context, db *gorm.DB, token string, amount int64) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, token string, amount int64) (bool, error)
	AdjustFloored(ctx context.Context, db *gorm.DB, token string, delta int64) (bool, error)
	SetActive(ctx context.Context, db *gorm.DB, token string, active bool) (bool, error)
}
