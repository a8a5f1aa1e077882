package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageRecord logs the actual cost of one completed AI call. Rows are
// append-only; retention and erasure are handled outside this service.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TenantID string  `gorm:"type:text;not null;index;index:idx_usage_tenant_created,priority:1;index:idx_usage_tenant_feature,priority:1"` // Tenant identifier.
	UserID   *string `gorm:"type:text;index"`                                                                                              // Acting user, when known.

	InputTokens      int64 `gorm:"not null;default:0"` // Input token count.
	OutputTokens     int64 `gorm:"not null;default:0"` // Output token count.
	CacheReadTokens  int64 `gorm:"not null;default:0"` // Cache read token count.
	CacheWriteTokens int64 `gorm:"not null;default:0"` // Cache write token count.

	Model    string `gorm:"type:text;not null;index"` // Model identifier.
	Provider string `gorm:"type:text;index"`          // Provider identifier.

	FeatureType string `gorm:"type:text;not null;index:idx_usage_tenant_feature,priority:2"` // Free-text feature category, e.g. "summarize".

	EntityType string `gorm:"type:text"` // Referenced entity type for drill-down.
	EntityID   string `gorm:"type:text"` // Referenced entity ID for drill-down.

	DurationMs int64 `gorm:"not null;default:0"` // Upstream call duration in milliseconds.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Free-form caller context JSON.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_usage_tenant_created,priority:2;index:idx_usage_tenant_feature,priority:3"` // Creation timestamp.
}

// TableName overrides the default table name.
func (UsageRecord) TableName() string {
	return "usage_records"
}

// TotalTokens returns the combined input and output token count.
func (r UsageRecord) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}
