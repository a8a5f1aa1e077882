package models

import (
	"time"
)

// Built-in ceilings applied to tenants with no stored limits row.
const (
	DefaultRequestsPerMinute = 60
	DefaultTokensPerMinute   = 100_000
	DefaultRequestsPerDay    = 10_000
	DefaultTokensPerDay      = 5_000_000
)

// TenantLimits stores the four rate ceilings for one tenant.
type TenantLimits struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID string `gorm:"type:text;not null;uniqueIndex"` // Tenant identifier.

	RequestsPerMinute int64 `gorm:"not null"` // Max admitted requests per sliding minute.
	TokensPerMinute   int64 `gorm:"not null"` // Max estimated tokens per sliding minute.
	RequestsPerDay    int64 `gorm:"not null"` // Max admitted requests per UTC day.
	TokensPerDay      int64 `gorm:"not null"` // Max estimated tokens per UTC day.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (TenantLimits) TableName() string {
	return "tenant_limits"
}

// DefaultTenantLimits returns the built-in ceilings for a tenant with no row.
func DefaultTenantLimits(tenantID string) TenantLimits {
	return TenantLimits{
		TenantID:          tenantID,
		RequestsPerMinute: DefaultRequestsPerMinute,
		TokensPerMinute:   DefaultTokensPerMinute,
		RequestsPerDay:    DefaultRequestsPerDay,
		TokensPerDay:      DefaultTokensPerDay,
	}
}
