package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrAlreadySettled  = errors.New("payment_already_settled")
	ErrPaymentExpired  = errors.New("payment_expired")
	ErrInvalidWebhook  = errors.New("invalid_webhook")
)

// RequestMeta captures where a payment was created from.
type RequestMeta struct {
	IP        string
	UserAgent string
	Referer   string
}

// Service is the payment processor. Completion is exactly-once: the
// pending -> completed transition is a conditional update claimed before the
// credit grant, so duplicate webhooks, polls, and admin confirms converge on
// one grant.
type Service interface {
	CreatePayment(ctx context.Context, keyToken string, credits int64, meta RequestMeta) (*Payment, error)
	GetPayment(ctx context.Context, publicID string) (*Payment, error)
	CompletePayment(ctx context.Context, publicID string, transactionID string) (*Payment, error)
	// HandleWebhook ingests a settlement webhook. Unverifiable payloads are
	// advisory only: logged and acknowledged without granting credit.
	HandleWebhook(ctx context.Context, payload []byte) error
	CleanupExpiredPayments(ctx context.Context) (int64, error)
	PollPendingPayments(ctx context.Context) error
}

type Repository interface {
	FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*Payment, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	// ClaimCompletion performs the one-way pending -> completed transition.
	// False means another writer settled the row first.
	ClaimCompletion(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	SweepExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	ListPendingCheckout(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Payment, error)
}
