package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// writeTimeout bounds one durable append so a slow store cannot hold the
// caller's request handler.
const writeTimeout = 5 * time.Second

// Record carries the actual cost of one completed AI call.
type Record struct {
	TenantID         string         `json:"tenant_id"`
	UserID           string         `json:"user_id,omitempty"`
	InputTokens      int64          `json:"input_tokens"`
	OutputTokens     int64          `json:"output_tokens"`
	CacheReadTokens  int64          `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64          `json:"cache_write_tokens,omitempty"`
	Model            string         `json:"model"`
	Provider         string         `json:"provider,omitempty"`
	FeatureType      string         `json:"feature_type"`
	EntityType       string         `json:"entity_type,omitempty"`
	EntityID         string         `json:"entity_id,omitempty"`
	DurationMs       int64          `json:"duration_ms"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Ledger appends usage rows and serves aggregate statistics.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time

	// warnLimiter keeps a durable-store outage from flooding the log with
	// one warning per dropped row.
	warnLimiter *rate.Limiter
}

// NewLedger constructs a Ledger backed by GORM.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{
		db:          db,
		now:         func() time.Time { return time.Now().UTC() },
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Record appends one usage row, best effort. The caller's AI call already
// completed, so a failed write is logged and dropped rather than surfaced;
// billing-critical callers should use RecordStrict and retry.
func (l *Ledger) Record(ctx context.Context, rec Record) {
	if errRecord := l.RecordStrict(ctx, rec); errRecord != nil {
		if l.warnLimiter.Allow() {
			log.WithError(errRecord).Warn("usage: dropping usage record, durable write failed")
		}
	}
}

// RecordStrict appends one usage row and returns the write error, if any.
func (l *Ledger) RecordStrict(ctx context.Context, rec Record) error {
	tenantID := strings.TrimSpace(rec.TenantID)
	if tenantID == "" {
		return fmt.Errorf("usage: empty tenant id")
	}
	if strings.TrimSpace(rec.FeatureType) == "" {
		return fmt.Errorf("usage: empty feature type")
	}

	row := models.UsageRecord{
		TenantID:         tenantID,
		InputTokens:      rec.InputTokens,
		OutputTokens:     rec.OutputTokens,
		CacheReadTokens:  rec.CacheReadTokens,
		CacheWriteTokens: rec.CacheWriteTokens,
		Model:            strings.TrimSpace(rec.Model),
		Provider:         strings.TrimSpace(rec.Provider),
		FeatureType:      strings.TrimSpace(rec.FeatureType),
		EntityType:       strings.TrimSpace(rec.EntityType),
		EntityID:         strings.TrimSpace(rec.EntityID),
		DurationMs:       rec.DurationMs,
		CreatedAt:        l.now(),
	}
	if userID := strings.TrimSpace(rec.UserID); userID != "" {
		row.UserID = &userID
	}
	if len(rec.Metadata) > 0 {
		payload, errMarshal := marshalMetadata(rec.Metadata)
		if errMarshal != nil {
			return fmt.Errorf("usage: encode metadata: %w", errMarshal)
		}
		row.Metadata = payload
	}

	dbCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if errCreate := l.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("usage: insert record: %w", errCreate)
	}
	return nil
}

// marshalMetadata encodes free-form caller context for the JSON column.
func marshalMetadata(metadata map[string]any) (datatypes.JSON, error) {
	payload, errMarshal := json.Marshal(metadata)
	if errMarshal != nil {
		return nil, errMarshal
	}
	return datatypes.JSON(payload), nil
}
