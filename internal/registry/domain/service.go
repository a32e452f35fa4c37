package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrNoKeysAvailable  = errors.New("no_keys_available")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidKey       = errors.New("invalid_key")
)

// ErrorSignals carries the independent classifications of an upstream
// failure. A single error can trip both: quota exhaustion flags the key,
// an auth rejection deactivates it.
type ErrorSignals struct {
	Quota bool
	Auth  bool
}

// Service manages upstream provider keys. Provider names match
// case-insensitively everywhere.
type Service interface {
	RegisterProvider(ctx context.Context, name string, apiKeys []string) (*Provider, error)
	GetProvider(ctx context.Context, name string) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	SetProviderKeys(ctx context.Context, name string, apiKeys []string) error
	// GetBestAPIKey returns the least-recently-used healthy key. When every
	// key is quota-exceeded it degrades to the active key with the oldest
	// error instead of hard-failing.
	GetBestAPIKey(ctx context.Context, name string) (string, error)
	// MarkKeyUsed is best-effort; bookkeeping failure never fails the caller.
	MarkKeyUsed(ctx context.Context, name string, apiKey string)
	MarkKeyError(ctx context.Context, name string, apiKey string, signals ErrorSignals, message string)
	ResetDailyQuotas(ctx context.Context, name string) error
	// SyncKeyStatus reconciles status rows against the configured key list.
	// Idempotent; runs before any status read.
	SyncKeyStatus(ctx context.Context, provider *Provider) error
	ListKeyStatus(ctx context.Context, name string) ([]UpstreamKeyStatus, error)
	ActiveKeyCount(ctx context.Context, name string) (int64, error)
}

type Repository interface {
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Provider, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Provider, error)
	Insert(ctx context.Context, db *gorm.DB, provider *Provider) error
	UpdateKeys(ctx context.Context, db *gorm.DB, id snowflake.ID, apiKeys []byte) error
	ListStatus(ctx context.Context, db *gorm.DB, providerID snowflake.ID) ([]UpstreamKeyStatus, error)
	InsertStatusIfMissing(ctx context.Context, db *gorm.DB, status *UpstreamKeyStatus) error
	DeleteStatusNotIn(ctx context.Context, db *gorm.DB, providerID snowflake.ID, apiKeys []string) error
	BestAvailable(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (*UpstreamKeyStatus, error)
	BestDegraded(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (*UpstreamKeyStatus, error)
	MarkUsed(ctx context.Context, db *gorm.DB, providerID snowflake.ID, apiKey string) error
	MarkError(ctx context.Context, db *gorm.DB, providerID snowflake.ID, apiKey string, message string, quotaExceeded bool, deactivate bool) error
	ResetQuotas(ctx context.Context, db *gorm.DB, providerID snowflake.ID) error
	CountActive(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (int64, error)
}
