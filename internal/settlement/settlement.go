// Package settlement abstracts the external money-collection service the
// payment processor reconciles against.
package settlement

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("settlement_not_configured")
	ErrRequestFailed = errors.New("settlement_request_failed")
	ErrNotFound      = errors.New("settlement_order_not_found")
)

// Settlement statuses as reported by the backend.
const (
	StatusPending   = "PENDING"
	StatusPaid      = "PAID"
	StatusCancelled = "CANCELLED"
)

type CheckoutRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	ReturnURL   string
	CancelURL   string
}

type CheckoutResult struct {
	CheckoutURL   string
	PaymentLinkID string
	QRCode        string
}

type Transaction struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

type StatusResult struct {
	OrderCode    int64
	Status       string
	Amount       int64
	Transactions []Transaction
}

// Backend is one hosted-checkout provider. Implementations must be safe for
// concurrent use.
type Backend interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	QueryStatus(ctx context.Context, orderCode int64) (*StatusResult, error)
	// VerifySignature checks a webhook payload's signature over its data
	// object. Implementations must never grant on an unverifiable payload.
	VerifySignature(data map[string]any, signature string) bool
}
