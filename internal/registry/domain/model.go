package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider is an upstream AI provider and its configured API key list.
// api_keys is the source of truth; upstream_key_status rows are reconciled
// against it by SyncKeyStatus.
type Provider struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:text;not null"`
	APIKeys   datatypes.JSON `json:"api_keys" gorm:"column:api_keys;type:jsonb;not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (Provider) TableName() string { return "providers" }

// UpstreamKeyStatus tracks per-key health and usage for one provider key.
type UpstreamKeyStatus struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	ProviderID    snowflake.ID `json:"provider_id" gorm:"column:provider_id;not null;uniqueIndex:ux_upstream_key_status_provider_key,priority:1"`
	APIKey        string       `json:"api_key" gorm:"column:api_key;type:text;not null;uniqueIndex:ux_upstream_key_status_provider_key,priority:2"`
	IsActive      bool         `json:"is_active" gorm:"column:is_active;not null;default:true"`
	QuotaExceeded bool         `json:"quota_exceeded" gorm:"column:quota_exceeded;not null;default:false"`
	LastError     *string      `json:"last_error" gorm:"column:last_error"`
	LastErrorTime *time.Time   `json:"last_error_time" gorm:"column:last_error_time"`
	RequestCount  int64        `json:"request_count" gorm:"column:request_count;not null;default:0"`
	LastUsed      *time.Time   `json:"last_used" gorm:"column:last_used"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`
}

func (UpstreamKeyStatus) TableName() string { return "upstream_key_status" }
