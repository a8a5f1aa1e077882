package ratelimit

import (
	"time"

	"github.com/tokenmeter/tokenmeter/internal/models"
)

// Reason identifies which ceiling denied an admission.
type Reason string

const (
	// ReasonRPM marks a denial by the per-minute request ceiling.
	ReasonRPM Reason = "RATE_LIMIT_RPM"
	// ReasonTPM marks a denial by the per-minute token ceiling.
	ReasonTPM Reason = "RATE_LIMIT_TPM"
	// ReasonDaily marks a denial by either daily ceiling.
	ReasonDaily Reason = "RATE_LIMIT_DAILY"
)

// minRetryAfter floors window-based retry hints so clock skew between the
// service and the counter store cannot produce hot-looping near-zero waits.
const minRetryAfter = time.Second

// Remaining reports post-decision capacity for every dimension.
type Remaining struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`
	RequestsPerDay    int64 `json:"requests_per_day"`
	TokensPerDay      int64 `json:"tokens_per_day"`
}

// Decision is the outcome of one admission check. A denial is a normal value,
// not an error; RetryAfter is a hint and clients should still back off.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     Reason        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Remaining  Remaining     `json:"remaining"`
}

// RetryAfterMs returns the retry hint in milliseconds for wire responses.
func (d Decision) RetryAfterMs() int64 {
	return d.RetryAfter.Milliseconds()
}

// Usage is the current in-window consumption for every dimension.
type Usage struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`
	RequestsPerDay    int64 `json:"requests_per_day"`
	TokensPerDay      int64 `json:"tokens_per_day"`
}

// snapshot holds one consistent read of a tenant's counters.
type snapshot struct {
	rpmCount  int64
	tpmSum    int64
	dayReqs   int64
	dayTokens int64

	oldestRPM time.Time // zero when the rpm window is empty
	oldestTPM time.Time // zero when the tpm window is empty
}

func (s snapshot) usage() Usage {
	return Usage{
		RequestsPerMinute: s.rpmCount,
		TokensPerMinute:   s.tpmSum,
		RequestsPerDay:    s.dayReqs,
		TokensPerDay:      s.dayTokens,
	}
}

// ceiling is one admission rule. Ceilings are evaluated in declaration order
// and the first violated one wins.
type ceiling struct {
	reason     Reason
	exceeded   func(lim models.TenantLimits, snap snapshot, estimate int64) bool
	retryAfter func(lim models.TenantLimits, snap snapshot, now time.Time) time.Duration
}

// ceilings lists the four admission rules in their fixed precedence order.
// Adding a fifth ceiling is one more entry here.
var ceilings = []ceiling{
	{
		reason: ReasonRPM,
		exceeded: func(lim models.TenantLimits, snap snapshot, _ int64) bool {
			return snap.rpmCount >= lim.RequestsPerMinute
		},
		retryAfter: func(_ models.TenantLimits, snap snapshot, now time.Time) time.Duration {
			return windowRetryAfter(snap.oldestRPM, now)
		},
	},
	{
		reason: ReasonTPM,
		exceeded: func(lim models.TenantLimits, snap snapshot, estimate int64) bool {
			return snap.tpmSum+estimate > lim.TokensPerMinute
		},
		retryAfter: func(_ models.TenantLimits, snap snapshot, now time.Time) time.Duration {
			return windowRetryAfter(snap.oldestTPM, now)
		},
	},
	{
		reason: ReasonDaily,
		exceeded: func(lim models.TenantLimits, snap snapshot, _ int64) bool {
			return snap.dayReqs >= lim.RequestsPerDay
		},
		retryAfter: dailyRetryAfter,
	},
	{
		reason: ReasonDaily,
		exceeded: func(lim models.TenantLimits, snap snapshot, estimate int64) bool {
			return snap.dayTokens+estimate > lim.TokensPerDay
		},
		retryAfter: dailyRetryAfter,
	},
}

// windowRetryAfter is the time until the oldest in-window entry slides out of
// the 60s window. The oldest entry's token weight may understate the true
// wait for token ceilings; treat the result as a hint.
func windowRetryAfter(oldest, now time.Time) time.Duration {
	if oldest.IsZero() {
		return minRetryAfter
	}
	wait := oldest.Add(window).Sub(now)
	if wait < minRetryAfter {
		return minRetryAfter
	}
	return wait
}

// dailyRetryAfter is the time remaining until the next UTC midnight.
func dailyRetryAfter(_ models.TenantLimits, _ snapshot, now time.Time) time.Duration {
	return nextUTCMidnight(now).Sub(now)
}

// evaluate applies the ordered ceilings and returns the first violation.
func evaluate(lim models.TenantLimits, snap snapshot, estimate int64, now time.Time) (Reason, time.Duration, bool) {
	for _, c := range ceilings {
		if c.exceeded(lim, snap, estimate) {
			return c.reason, c.retryAfter(lim, snap, now), true
		}
	}
	return "", 0, false
}

// remainingAfter computes the remaining capacity given current usage.
func remainingAfter(lim models.TenantLimits, snap snapshot) Remaining {
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return Remaining{
		RequestsPerMinute: clamp(lim.RequestsPerMinute - snap.rpmCount),
		TokensPerMinute:   clamp(lim.TokensPerMinute - snap.tpmSum),
		RequestsPerDay:    clamp(lim.RequestsPerDay - snap.dayReqs),
		TokensPerDay:      clamp(lim.TokensPerDay - snap.dayTokens),
	}
}
