package limits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCacheTTL bounds how stale a cached tenant limits entry may be.
const DefaultCacheTTL = 60 * time.Second

// ErrInvalidLimit is returned when an update carries a non-positive ceiling.
var ErrInvalidLimit = errors.New("limits: limit values must be positive")

// Patch holds a partial limits update; nil fields keep their prior value.
type Patch struct {
	RequestsPerMinute *int64 `json:"requests_per_minute"`
	TokensPerMinute   *int64 `json:"tokens_per_minute"`
	RequestsPerDay    *int64 `json:"requests_per_day"`
	TokensPerDay      *int64 `json:"tokens_per_day"`
}

// Validate rejects non-positive values. Limits are never silently clamped.
func (p Patch) Validate() error {
	check := func(name string, v *int64) error {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidLimit, name, *v)
		}
		return nil
	}
	if err := check("requests_per_minute", p.RequestsPerMinute); err != nil {
		return err
	}
	if err := check("tokens_per_minute", p.TokensPerMinute); err != nil {
		return err
	}
	if err := check("requests_per_day", p.RequestsPerDay); err != nil {
		return err
	}
	return check("tokens_per_day", p.TokensPerDay)
}

// cacheEntry pairs a cached value with its expiry instant. The pair is the
// staleness contract: reads within expiresAt may lag a concurrent update from
// another process by at most the cache TTL.
type cacheEntry struct {
	limits    models.TenantLimits
	expiresAt time.Time
}

// Store reads and updates per-tenant limits with a read-through cache.
// The cache is per-process and never coordinated across processes.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewStore constructs a Store with the default cache TTL.
func NewStore(db *gorm.DB) *Store {
	return NewStoreWithTTL(db, DefaultCacheTTL)
}

// NewStoreWithTTL constructs a Store with an explicit cache TTL.
func NewStoreWithTTL(db *gorm.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		db:    db,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		cache: make(map[string]cacheEntry),
	}
}

// Get returns the tenant's limits, serving the cached value while fresh and
// falling back to the built-in defaults when no row exists. A tenant with no
// explicit configuration is never blocked from use.
func (s *Store) Get(ctx context.Context, tenantID string) (models.TenantLimits, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return models.TenantLimits{}, fmt.Errorf("limits: empty tenant id")
	}

	now := s.now()
	s.mu.RLock()
	entry, ok := s.cache[tenantID]
	s.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.limits, nil
	}

	row, errLoad := s.load(ctx, tenantID)
	if errLoad != nil {
		// Stale-but-recent beats blocking admission on a config read.
		if ok {
			log.WithError(errLoad).Warnf("limits: serving stale limits for tenant %s", tenantID)
			return entry.limits, nil
		}
		return models.TenantLimits{}, errLoad
	}

	s.mu.Lock()
	s.cache[tenantID] = cacheEntry{limits: row, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return row, nil
}

// Update applies a validated partial update, persists it, and evicts the
// tenant's cache entry so subsequent checks in this process see fresh values.
func (s *Store) Update(ctx context.Context, tenantID string, patch Patch) (models.TenantLimits, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return models.TenantLimits{}, fmt.Errorf("limits: empty tenant id")
	}
	if errValidate := patch.Validate(); errValidate != nil {
		return models.TenantLimits{}, errValidate
	}

	row, errLoad := s.load(ctx, tenantID)
	if errLoad != nil {
		return models.TenantLimits{}, errLoad
	}

	next := models.TenantLimits{
		TenantID:          tenantID,
		RequestsPerMinute: row.RequestsPerMinute,
		TokensPerMinute:   row.TokensPerMinute,
		RequestsPerDay:    row.RequestsPerDay,
		TokensPerDay:      row.TokensPerDay,
		UpdatedAt:         s.now(),
	}
	if patch.RequestsPerMinute != nil {
		next.RequestsPerMinute = *patch.RequestsPerMinute
	}
	if patch.TokensPerMinute != nil {
		next.TokensPerMinute = *patch.TokensPerMinute
	}
	if patch.RequestsPerDay != nil {
		next.RequestsPerDay = *patch.RequestsPerDay
	}
	if patch.TokensPerDay != nil {
		next.TokensPerDay = *patch.TokensPerDay
	}

	if errUpsert := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"requests_per_minute", "tokens_per_minute",
				"requests_per_day", "tokens_per_day", "updated_at",
			}),
		}).
		Create(&next).Error; errUpsert != nil {
		return models.TenantLimits{}, fmt.Errorf("limits: upsert: %w", errUpsert)
	}

	s.Evict(tenantID)
	return s.load(ctx, tenantID)
}

// Evict drops the cached entry for a tenant.
func (s *Store) Evict(tenantID string) {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()
}

// load reads the durable row, substituting defaults when none exists.
func (s *Store) load(ctx context.Context, tenantID string) (models.TenantLimits, error) {
	var row models.TenantLimits
	errFirst := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Take(&row).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return models.DefaultTenantLimits(tenantID), nil
		}
		return models.TenantLimits{}, fmt.Errorf("limits: load: %w", errFirst)
	}
	return row, nil
}
