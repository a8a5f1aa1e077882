package ratelimit

import (
	"fmt"
	"time"
)

// Counter keys are namespaced per tenant and dimension so no two tenants or
// dimensions ever share a key:
//
//	ratelimit:{tenant}:rpm            sorted set, score = admission unix ms
//	ratelimit:{tenant}:tpm            sorted set, member carries token weight
//	ratelimit:{tenant}:rpd:{utcDate}  integer accumulator
//	ratelimit:{tenant}:tpd:{utcDate}  integer accumulator
const keyPrefix = "ratelimit"

func rpmKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:rpm", keyPrefix, tenantID)
}

func tpmKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:tpm", keyPrefix, tenantID)
}

func dailyRequestsKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:rpd:%s", keyPrefix, tenantID, utcDay(now))
}

func dailyTokensKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:tpd:%s", keyPrefix, tenantID, utcDay(now))
}

// utcDay formats the UTC calendar day used to scope daily accumulators.
func utcDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// nextUTCMidnight returns the start of the next UTC day.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
