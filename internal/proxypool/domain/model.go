package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Proxy protocols. Anything unrecognized is treated as https.
const (
	ProtocolHTTP   = "http"
	ProtocolHTTPS  = "https"
	ProtocolSOCKS4 = "socks4"
	ProtocolSOCKS5 = "socks5"
)

// Proxy is one outbound egress endpoint. At most one upstream API key may be
// bound to a proxy at a time; the binding lives in assigned_api_key and is
// enforced with a conditional update, never read-modify-write.
type Proxy struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	Host              string       `json:"host" gorm:"type:text;not null;uniqueIndex:ux_proxies_host_port,priority:1"`
	Port              int          `json:"port" gorm:"not null;uniqueIndex:ux_proxies_host_port,priority:2"`
	Protocol          string       `json:"protocol" gorm:"type:text;not null;default:https"`
	Username          *string      `json:"username,omitempty" gorm:"column:username"`
	Password          *string      `json:"-" gorm:"column:password"`
	IsActive          bool         `json:"is_active" gorm:"column:is_active;not null;default:true"`
	Location          *string      `json:"location,omitempty" gorm:"column:location"`
	Vendor            *string      `json:"vendor,omitempty" gorm:"column:vendor"`
	SuccessCount      int64        `json:"success_count" gorm:"column:success_count;not null;default:0"`
	FailureCount      int64        `json:"failure_count" gorm:"column:failure_count;not null;default:0"`
	AvgResponseTimeMs int64        `json:"avg_response_time_ms" gorm:"column:avg_response_time_ms;not null;default:0"`
	LastUsed          *time.Time   `json:"last_used,omitempty" gorm:"column:last_used"`
	AssignedAPIKey    *string      `json:"assigned_api_key,omitempty" gorm:"column:assigned_api_key"`
	Note              *string      `json:"note,omitempty" gorm:"column:note"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (Proxy) TableName() string { return "proxies" }

// Addr returns host:port.
func (p *Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// NormalizeProtocol maps any input onto a supported protocol, defaulting to
// https for unknown values.
func NormalizeProtocol(protocol string) string {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case ProtocolHTTP:
		return ProtocolHTTP
	case ProtocolSOCKS4:
		return ProtocolSOCKS4
	case ProtocolSOCKS5:
		return ProtocolSOCKS5
	default:
		return ProtocolHTTPS
	}
}
