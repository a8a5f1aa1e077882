package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMigrateSQLiteCreatesTables(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, table := range []string{"tenant_limits", "usage_records"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
}

func TestMigrateSQLiteTenantLimitsColumns(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, column := range []string{"tenant_id", "requests_per_minute", "tokens_per_minute", "requests_per_day", "tokens_per_day"} {
		if !conn.Migrator().HasColumn("tenant_limits", column) {
			t.Fatalf("tenant_limits missing column %s", column)
		}
	}
}

func TestMigrateSQLiteUsageRecordColumns(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, column := range []string{"tenant_id", "input_tokens", "output_tokens", "cache_read_tokens", "cache_write_tokens", "feature_type", "duration_ms"} {
		if !conn.Migrator().HasColumn("usage_records", column) {
			t.Fatalf("usage_records missing column %s", column)
		}
	}
}
