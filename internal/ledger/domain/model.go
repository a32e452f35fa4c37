package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Key is a caller-facing credential bound to a credit balance. Keys are
// deactivated rather than deleted so payment history stays resolvable.
type Key struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Token           string       `json:"token" gorm:"type:text;not null;uniqueIndex:ux_keys_token"`
	IsActive        bool         `json:"is_active" gorm:"column:is_active;not null;default:true"`
	Credit          int64        `json:"credit" gorm:"not null;default:0"`
	ExpiresAt       *time.Time   `json:"expires_at" gorm:"column:expires_at"`
	ActivationLimit *int64       `json:"activation_limit" gorm:"column:activation_limit"`
	Note            string       `json:"note" gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (Key) TableName() string { return "keys" }
