package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tokenmeter/tokenmeter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.TenantLimits{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func int64Ptr(v int64) *int64 { return &v }

func TestGetReturnsDefaultsForUnknownTenant(t *testing.T) {
	store := NewStore(openTestDB(t))

	got, errGet := store.Get(context.Background(), "acme")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if got.RequestsPerMinute != models.DefaultRequestsPerMinute {
		t.Fatalf("requests_per_minute = %d, want %d", got.RequestsPerMinute, models.DefaultRequestsPerMinute)
	}
	if got.TokensPerMinute != models.DefaultTokensPerMinute {
		t.Fatalf("tokens_per_minute = %d, want %d", got.TokensPerMinute, models.DefaultTokensPerMinute)
	}
	if got.RequestsPerDay != models.DefaultRequestsPerDay {
		t.Fatalf("requests_per_day = %d, want %d", got.RequestsPerDay, models.DefaultRequestsPerDay)
	}
	if got.TokensPerDay != models.DefaultTokensPerDay {
		t.Fatalf("tokens_per_day = %d, want %d", got.TokensPerDay, models.DefaultTokensPerDay)
	}
}

func TestUpdatePersistsAndIsVisibleImmediately(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	// Prime the cache with defaults.
	if _, errGet := store.Get(ctx, "acme"); errGet != nil {
		t.Fatalf("get: %v", errGet)
	}

	updated, errUpdate := store.Update(ctx, "acme", Patch{RequestsPerMinute: int64Ptr(100)})
	if errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if updated.RequestsPerMinute != 100 {
		t.Fatalf("requests_per_minute = %d, want 100", updated.RequestsPerMinute)
	}
	// Unspecified fields keep the defaults.
	if updated.TokensPerMinute != models.DefaultTokensPerMinute {
		t.Fatalf("tokens_per_minute = %d, want default", updated.TokensPerMinute)
	}

	// The update must bypass the cached defaults in the same process.
	got, errGet := store.Get(ctx, "acme")
	if errGet != nil {
		t.Fatalf("get after update: %v", errGet)
	}
	if got.RequestsPerMinute != 100 {
		t.Fatalf("requests_per_minute after update = %d, want 100", got.RequestsPerMinute)
	}
}

func TestUpdatePartialKeepsPriorValues(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, errUpdate := store.Update(ctx, "acme", Patch{TokensPerDay: int64Ptr(42)}); errUpdate != nil {
		t.Fatalf("first update: %v", errUpdate)
	}
	updated, errUpdate := store.Update(ctx, "acme", Patch{RequestsPerDay: int64Ptr(7)})
	if errUpdate != nil {
		t.Fatalf("second update: %v", errUpdate)
	}
	if updated.TokensPerDay != 42 {
		t.Fatalf("tokens_per_day = %d, want 42", updated.TokensPerDay)
	}
	if updated.RequestsPerDay != 7 {
		t.Fatalf("requests_per_day = %d, want 7", updated.RequestsPerDay)
	}
}

func TestUpdateRejectsNonPositiveLimits(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	for _, patch := range []Patch{
		{RequestsPerMinute: int64Ptr(0)},
		{TokensPerMinute: int64Ptr(-1)},
		{RequestsPerDay: int64Ptr(0)},
		{TokensPerDay: int64Ptr(-100)},
	} {
		if _, errUpdate := store.Update(ctx, "acme", patch); !errors.Is(errUpdate, ErrInvalidLimit) {
			t.Fatalf("update %+v: err = %v, want ErrInvalidLimit", patch, errUpdate)
		}
	}

	// Nothing may be persisted by a rejected update.
	got, errGet := store.Get(ctx, "acme")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if got.RequestsPerMinute != models.DefaultRequestsPerMinute {
		t.Fatalf("requests_per_minute = %d, want default", got.RequestsPerMinute)
	}
}

func TestGetServesCachedValueUntilTTL(t *testing.T) {
	conn := openTestDB(t)
	store := NewStoreWithTTL(conn, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, errUpdate := store.Update(ctx, "acme", Patch{RequestsPerMinute: int64Ptr(100)}); errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if _, errGet := store.Get(ctx, "acme"); errGet != nil {
		t.Fatalf("get: %v", errGet)
	}

	// An out-of-band write from another process stays invisible until the
	// cache window elapses.
	if errExec := conn.Model(&models.TenantLimits{}).
		Where("tenant_id = ?", "acme").
		Update("requests_per_minute", 500).Error; errExec != nil {
		t.Fatalf("out-of-band update: %v", errExec)
	}

	got, errGet := store.Get(ctx, "acme")
	if errGet != nil {
		t.Fatalf("get cached: %v", errGet)
	}
	if got.RequestsPerMinute != 100 {
		t.Fatalf("requests_per_minute = %d, want cached 100", got.RequestsPerMinute)
	}

	now = now.Add(61 * time.Second)
	got, errGet = store.Get(ctx, "acme")
	if errGet != nil {
		t.Fatalf("get after ttl: %v", errGet)
	}
	if got.RequestsPerMinute != 500 {
		t.Fatalf("requests_per_minute = %d, want refreshed 500", got.RequestsPerMinute)
	}
}
