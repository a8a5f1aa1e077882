package usage

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tokenmeter/tokenmeter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.UsageRecord{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewLedger(conn), conn
}

func TestRecordAndDailyStats(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()

	records := []Record{
		{TenantID: "acme", UserID: "u1", InputTokens: 100, OutputTokens: 50, Model: "gpt-4o", Provider: "openai", FeatureType: "summarize", DurationMs: 1200},
		{TenantID: "acme", InputTokens: 200, OutputTokens: 80, Model: "gpt-4o", Provider: "openai", FeatureType: "summarize", DurationMs: 900},
		{TenantID: "acme", InputTokens: 300, OutputTokens: 120, Model: "claude-sonnet", Provider: "anthropic", FeatureType: "draft", EntityType: "case", EntityID: "c-42", DurationMs: 2100},
	}
	for i, rec := range records {
		if errRecord := ledger.RecordStrict(ctx, rec); errRecord != nil {
			t.Fatalf("record %d: %v", i, errRecord)
		}
	}

	stats, errStats := ledger.Stats(ctx, "acme", PeriodDay)
	if errStats != nil {
		t.Fatalf("stats: %v", errStats)
	}
	if stats.TotalRequests != 3 {
		t.Fatalf("total_requests = %d, want 3", stats.TotalRequests)
	}
	if stats.TotalInputTokens != 600 {
		t.Fatalf("total_input_tokens = %d, want 600", stats.TotalInputTokens)
	}
	if stats.TotalOutputTokens != 250 {
		t.Fatalf("total_output_tokens = %d, want 250", stats.TotalOutputTokens)
	}
	summarize := stats.ByFeature["summarize"]
	if summarize.Requests != 2 || summarize.InputTokens != 300 || summarize.OutputTokens != 130 {
		t.Fatalf("summarize stats = %+v", summarize)
	}
	draft := stats.ByFeature["draft"]
	if draft.Requests != 1 || draft.InputTokens != 300 || draft.OutputTokens != 120 {
		t.Fatalf("draft stats = %+v", draft)
	}
}

func TestStatsScopedToTenantAndPeriod(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	// Three days ago: inside week and month, outside day.
	ledger.now = func() time.Time { return now.AddDate(0, 0, -3) }
	if errRecord := ledger.RecordStrict(ctx, Record{TenantID: "acme", InputTokens: 10, OutputTokens: 5, Model: "m", FeatureType: "summarize"}); errRecord != nil {
		t.Fatalf("old record: %v", errRecord)
	}

	ledger.now = func() time.Time { return now }
	if errRecord := ledger.RecordStrict(ctx, Record{TenantID: "acme", InputTokens: 20, OutputTokens: 8, Model: "m", FeatureType: "summarize"}); errRecord != nil {
		t.Fatalf("fresh record: %v", errRecord)
	}
	if errRecord := ledger.RecordStrict(ctx, Record{TenantID: "globex", InputTokens: 999, OutputTokens: 999, Model: "m", FeatureType: "summarize"}); errRecord != nil {
		t.Fatalf("other tenant record: %v", errRecord)
	}

	day, errDay := ledger.Stats(ctx, "acme", PeriodDay)
	if errDay != nil {
		t.Fatalf("day stats: %v", errDay)
	}
	if day.TotalRequests != 1 || day.TotalInputTokens != 20 {
		t.Fatalf("day stats = %+v, want only the fresh acme row", day)
	}

	week, errWeek := ledger.Stats(ctx, "acme", PeriodWeek)
	if errWeek != nil {
		t.Fatalf("week stats: %v", errWeek)
	}
	if week.TotalRequests != 2 || week.TotalInputTokens != 30 {
		t.Fatalf("week stats = %+v, want both acme rows", week)
	}
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	ledger, conn := openTestLedger(t)

	// Force every insert to fail.
	if errDrop := conn.Migrator().DropTable(&models.UsageRecord{}); errDrop != nil {
		t.Fatalf("drop table: %v", errDrop)
	}

	// Must not panic and must not surface the failure.
	ledger.Record(context.Background(), Record{TenantID: "acme", Model: "m", FeatureType: "summarize"})
}

func TestRecordStrictValidates(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()

	if errRecord := ledger.RecordStrict(ctx, Record{FeatureType: "summarize"}); errRecord == nil {
		t.Fatal("expected error for missing tenant id")
	}
	if errRecord := ledger.RecordStrict(ctx, Record{TenantID: "acme"}); errRecord == nil {
		t.Fatal("expected error for missing feature type")
	}
}

func TestRecordPersistsMetadata(t *testing.T) {
	ledger, conn := openTestLedger(t)
	ctx := context.Background()

	rec := Record{
		TenantID:    "acme",
		Model:       "gpt-4o",
		FeatureType: "summarize",
		Metadata:    map[string]any{"request_id": "req-1"},
	}
	if errRecord := ledger.RecordStrict(ctx, rec); errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}

	var row models.UsageRecord
	if errTake := conn.Take(&row).Error; errTake != nil {
		t.Fatalf("load row: %v", errTake)
	}
	if len(row.Metadata) == 0 {
		t.Fatal("metadata column is empty")
	}
}

func TestParsePeriod(t *testing.T) {
	for raw, want := range map[string]Period{
		"":      PeriodDay,
		"day":   PeriodDay,
		"week":  PeriodWeek,
		"MONTH": PeriodMonth,
	} {
		got, errParse := ParsePeriod(raw)
		if errParse != nil || got != want {
			t.Fatalf("ParsePeriod(%q) = %s, %v; want %s", raw, got, errParse, want)
		}
	}
	if _, errParse := ParsePeriod("year"); errParse == nil {
		t.Fatal("expected error for unsupported period")
	}
}
