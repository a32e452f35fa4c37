package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrProxyNotFound  = errors.New("proxy_not_found")
	ErrProxyAssigned  = errors.New("proxy_assigned")
	ErrDuplicateProxy = errors.New("duplicate_proxy")
	ErrInvalidProxy   = errors.New("invalid_proxy")
)

// Auto-assignment outcomes, reported per upstream key.
const (
	AssignOutcomeAssigned        = "assigned"
	AssignOutcomeAlreadyAssigned = "already_assigned"
	AssignOutcomeNoProxy         = "no_proxy_available"
	AssignOutcomeError           = "error"
)

// ProxyInput carries admin-supplied proxy fields.
type ProxyInput struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Protocol string  `json:"protocol"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Location *string `json:"location"`
	Vendor   *string `json:"vendor"`
	IsActive *bool   `json:"is_active"`
}

// AssignResult is the per-key outcome of an auto-assign run.
type AssignResult struct {
	Provider string       `json:"provider"`
	APIKey   string       `json:"api_key"`
	ProxyID  snowflake.ID `json:"proxy_id,omitempty"`
	Outcome  string       `json:"outcome"`
	Error    string       `json:"error,omitempty"`
}

// Service manages the outbound proxy pool and routes upstream HTTP traffic
// through it. A key without an assigned proxy always goes direct; proxy
// absence is never an error.
type Service interface {
	AddProxy(ctx context.Context, input ProxyInput) (*Proxy, error)
	GetProxy(ctx context.Context, id snowflake.ID) (*Proxy, error)
	ListProxies(ctx context.Context) ([]Proxy, error)
	UpdateProxy(ctx context.Context, id snowflake.ID, input ProxyInput) (*Proxy, error)
	// DeleteProxy refuses to remove a proxy that still has a live key binding.
	DeleteProxy(ctx context.Context, id snowflake.ID) error
	// GetProxyForAPIKey resolves the proxy bound to an upstream key through a
	// bounded-TTL cache. Returns (nil, nil) when no proxy is bound.
	GetProxyForAPIKey(ctx context.Context, apiKey string) (*Proxy, error)
	// RequestThrough sends req through the key's proxy when one is bound,
	// falling back to a direct call when the proxy fails with a transient
	// network error. At most one direct retry per request.
	RequestThrough(ctx context.Context, req *http.Request, apiKey string) (*http.Response, error)
	// ClientFor returns an http.Client whose transport applies the same
	// proxy routing and fallback as RequestThrough for the given key.
	ClientFor(apiKey string) *http.Client
	ReleaseProxy(ctx context.Context, id snowflake.ID) error
	PerformHealthCheck(ctx context.Context) error
	SuggestUnassigned(ctx context.Context, limit int) ([]Proxy, error)
	AutoAssign(ctx context.Context, providerFilter string, forceReassign bool) ([]AssignResult, error)
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Proxy, error)
	FindByHostPort(ctx context.Context, db *gorm.DB, host string, port int) (*Proxy, error)
	FindByAssignedKey(ctx context.Context, db *gorm.DB, apiKey string) (*Proxy, error)
	Insert(ctx context.Context, db *gorm.DB, proxy *Proxy) error
	Update(ctx context.Context, db *gorm.DB, proxy *Proxy) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListAll(ctx context.Context, db *gorm.DB) ([]Proxy, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Proxy, error)
	ListUnassignedActive(ctx context.Context, db *gorm.DB, limit int) ([]Proxy, error)
	RecordSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, elapsedMs int64) error
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, note string) error
	// AssignIfFree binds apiKey to the proxy only when no key holds it.
	AssignIfFree(ctx context.Context, db *gorm.DB, id snowflake.ID, apiKey string) (bool, error)
	ClearAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ClearAssignmentByKey(ctx context.Context, db *gorm.DB, apiKey string) error
}
