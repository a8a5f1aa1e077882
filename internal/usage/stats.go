package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/models"
)

// Period selects the aggregation window for usage statistics.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period string, defaulting empty input to day.
func ParsePeriod(raw string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodWeek:
		return PeriodWeek, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("usage: invalid period %q", raw)
	}
}

// Start returns the UTC instant the period begins at, relative to now.
func (p Period) Start(now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeek:
		return today.AddDate(0, 0, -6)
	case PeriodMonth:
		return today.AddDate(0, -1, 0)
	default:
		return today
	}
}

// FeatureStats aggregates usage for one feature type.
type FeatureStats struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Stats aggregates a tenant's usage since the period start.
type Stats struct {
	Period            Period                  `json:"period"`
	PeriodStart       time.Time               `json:"period_start"`
	TotalRequests     int64                   `json:"total_requests"`
	TotalInputTokens  int64                   `json:"total_input_tokens"`
	TotalOutputTokens int64                   `json:"total_output_tokens"`
	ByFeature         map[string]FeatureStats `json:"by_feature"`
}

// featureRow scans one grouped aggregation row.
type featureRow struct {
	FeatureType  string
	Requests     int64
	InputTokens  int64
	OutputTokens int64
}

// Stats scans the tenant's usage rows since the period start and aggregates
// totals overall and per feature type.
func (l *Ledger) Stats(ctx context.Context, tenantID string, period Period) (Stats, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Stats{}, fmt.Errorf("usage: empty tenant id")
	}

	since := period.Start(l.now())
	var rows []featureRow
	if errScan := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Select("feature_type, COUNT(*) AS requests, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens").
		Group("feature_type").
		Scan(&rows).Error; errScan != nil {
		return Stats{}, fmt.Errorf("usage: aggregate: %w", errScan)
	}

	stats := Stats{
		Period:      period,
		PeriodStart: since,
		ByFeature:   make(map[string]FeatureStats, len(rows)),
	}
	for _, row := range rows {
		stats.TotalRequests += row.Requests
		stats.TotalInputTokens += row.InputTokens
		stats.TotalOutputTokens += row.OutputTokens
		stats.ByFeature[row.FeatureType] = FeatureStats{
			Requests:     row.Requests,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
		}
	}
	return stats, nil
}
