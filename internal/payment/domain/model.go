package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment statuses. pending -> completed is the only transition that grants
// credit, and it happens at most once per row.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// Payment methods.
const (
	MethodCheckout     = "payos"
	MethodBankTransfer = "bank_transfer"
)

// PaymentData is the embedded per-payment checkout detail blob.
type PaymentData struct {
	CheckoutURL   string `json:"checkout_url,omitempty"`
	QRPayload     string `json:"qr_payload,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	BankAccount   string `json:"bank_account,omitempty"`
	BankHolder    string `json:"bank_holder,omitempty"`
	Amount        int64  `json:"amount"`
	TransferRef   string `json:"transfer_reference"`
	OrderCode     int64  `json:"order_code"`
	PaymentLinkID string `json:"payment_link_id,omitempty"`
}

type Payment struct {
	ID               snowflake.ID   `json:"-" gorm:"primaryKey"`
	PublicID         string         `json:"id" gorm:"column:public_id;type:text;not null;uniqueIndex:ux_payments_public_id"`
	UserKey          string         `json:"user_key" gorm:"column:user_key;type:text;not null"`
	CreditAmount     int64          `json:"credit_amount" gorm:"column:credit_amount;not null"`
	Price            int64          `json:"price" gorm:"not null"`
	Currency         string         `json:"currency" gorm:"type:text;not null;default:VND"`
	Status           string         `json:"status" gorm:"type:text;not null;default:pending"`
	PaymentMethod    string         `json:"payment_method" gorm:"column:payment_method;type:text;not null"`
	TransactionID    *string        `json:"transaction_id,omitempty" gorm:"column:transaction_id"`
	PaymentData      datatypes.JSON `json:"payment_data" gorm:"column:payment_data;type:jsonb;not null"`
	RequestIP        string         `json:"-" gorm:"column:request_ip;type:text;not null;default:''"`
	RequestUserAgent string         `json:"-" gorm:"column:request_user_agent;type:text;not null;default:''"`
	RequestReferer   string         `json:"-" gorm:"column:request_referer;type:text;not null;default:''"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" gorm:"column:completed_at"`
	ExpiredAt        time.Time      `json:"expired_at" gorm:"column:expired_at;not null"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }
