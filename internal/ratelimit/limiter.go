package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tokenmeter/tokenmeter/internal/models"
)

const (
	// window is the sliding per-minute window.
	window = time.Minute
	// minuteKeyTTL lets per-minute keys self-clean even if never purged again.
	minuteKeyTTL = 2 * time.Minute
	// dailyKeyTTL outlives the UTC day by an hour so boundary skew cannot
	// drop a counter mid-use.
	dailyKeyTTL = 25 * time.Hour
	// defaultStoreTimeout bounds one counter-store round trip. A timeout
	// denies the request; admission never fails open.
	defaultStoreTimeout = 3 * time.Second
)

// LimitsSource resolves the configured ceilings for a tenant.
type LimitsSource interface {
	Get(ctx context.Context, tenantID string) (models.TenantLimits, error)
}

// Status is a read-only view of a tenant's limits and in-window consumption.
type Status struct {
	Limits    models.TenantLimits `json:"limits"`
	Current   Usage               `json:"current"`
	Remaining Remaining           `json:"remaining"`
}

// Limiter admits or denies metered requests against per-tenant ceilings kept
// in a shared Redis counter store. It holds no cross-tenant state and is safe
// for arbitrary concurrent use; correctness between processes rests on the
// store's pipelined batches.
type Limiter struct {
	rdb     redis.UniversalClient
	limits  LimitsSource
	timeout time.Duration
	now     func() time.Time
}

// NewLimiter constructs a Limiter over the given counter store and limits source.
func NewLimiter(rdb redis.UniversalClient, limits LimitsSource) *Limiter {
	return &Limiter{
		rdb:     rdb,
		limits:  limits,
		timeout: defaultStoreTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndConsume evaluates all four ceilings for one request carrying the
// caller's conservative token estimate. When every ceiling passes, capacity
// is reserved in a single transactional batch and the post-consumption
// remaining capacity is reported. A denial reserves nothing.
//
// Any counter-store failure is returned as an error; callers must treat that
// as a denial (fail closed).
func (l *Limiter) CheckAndConsume(ctx context.Context, tenantID string, estimatedTokens int64) (Decision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Decision{}, fmt.Errorf("ratelimit: empty tenant id")
	}
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	lim, errLimits := l.limits.Get(ctx, tenantID)
	if errLimits != nil {
		storeErrorsTotal.WithLabelValues("limits").Inc()
		return Decision{}, fmt.Errorf("ratelimit: load limits: %w", errLimits)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.now()
	snap, errSnap := l.readCounters(ctx, tenantID, now)
	if errSnap != nil {
		storeErrorsTotal.WithLabelValues("counters").Inc()
		return Decision{}, fmt.Errorf("ratelimit: read counters: %w", errSnap)
	}

	if reason, retryAfter, denied := evaluate(lim, snap, estimatedTokens, now); denied {
		admissionsTotal.WithLabelValues("denied", string(reason)).Inc()
		return Decision{
			Allowed:    false,
			Reason:     reason,
			RetryAfter: retryAfter,
			Remaining:  remainingAfter(lim, snap),
		}, nil
	}

	if errConsume := l.consume(ctx, tenantID, now, estimatedTokens); errConsume != nil {
		storeErrorsTotal.WithLabelValues("consume").Inc()
		return Decision{}, fmt.Errorf("ratelimit: consume: %w", errConsume)
	}

	post := snapshot{
		rpmCount:  snap.rpmCount + 1,
		tpmSum:    snap.tpmSum + estimatedTokens,
		dayReqs:   snap.dayReqs + 1,
		dayTokens: snap.dayTokens + estimatedTokens,
	}
	admissionsTotal.WithLabelValues("allowed", "").Inc()
	return Decision{Allowed: true, Remaining: remainingAfter(lim, post)}, nil
}

// Status reports limits, current in-window usage, and remaining capacity
// without consuming anything. Meant for end-user display near the cap.
func (l *Limiter) Status(ctx context.Context, tenantID string) (Status, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Status{}, fmt.Errorf("ratelimit: empty tenant id")
	}

	lim, errLimits := l.limits.Get(ctx, tenantID)
	if errLimits != nil {
		return Status{}, fmt.Errorf("ratelimit: load limits: %w", errLimits)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	snap, errSnap := l.readCounters(ctx, tenantID, l.now())
	if errSnap != nil {
		return Status{}, fmt.Errorf("ratelimit: read counters: %w", errSnap)
	}

	return Status{
		Limits:    lim,
		Current:   snap.usage(),
		Remaining: remainingAfter(lim, snap),
	}, nil
}

// readCounters purges expired window entries and reads every dimension in one
// transactional batch against the same window boundary.
func (l *Limiter) readCounters(ctx context.Context, tenantID string, now time.Time) (snapshot, error) {
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rpmKey(tenantID), "0", cutoff)
	pipe.ZRemRangeByScore(ctx, tpmKey(tenantID), "0", cutoff)
	rpmCountCmd := pipe.ZCard(ctx, rpmKey(tenantID))
	rpmOldestCmd := pipe.ZRangeWithScores(ctx, rpmKey(tenantID), 0, 0)
	tpmEntriesCmd := pipe.ZRangeWithScores(ctx, tpmKey(tenantID), 0, -1)
	dayReqsCmd := pipe.Get(ctx, dailyRequestsKey(tenantID, now))
	dayTokensCmd := pipe.Get(ctx, dailyTokensKey(tenantID, now))

	if _, errExec := pipe.Exec(ctx); errExec != nil && !errors.Is(errExec, redis.Nil) {
		return snapshot{}, errExec
	}

	snap := snapshot{rpmCount: rpmCountCmd.Val()}

	if oldest := rpmOldestCmd.Val(); len(oldest) > 0 {
		snap.oldestRPM = time.UnixMilli(int64(oldest[0].Score)).UTC()
	}
	for i, entry := range tpmEntriesCmd.Val() {
		if i == 0 {
			snap.oldestTPM = time.UnixMilli(int64(entry.Score)).UTC()
		}
		snap.tpmSum += tokenWeight(entry.Member)
	}

	snap.dayReqs = counterValue(dayReqsCmd)
	snap.dayTokens = counterValue(dayTokensCmd)
	return snap, nil
}

// consume reserves capacity for one admitted request as a single MULTI/EXEC
// batch: window entries, daily accumulators, and TTL refreshes together.
func (l *Limiter) consume(ctx context.Context, tenantID string, now time.Time, estimatedTokens int64) error {
	member := uuid.NewString()
	score := float64(now.UnixMilli())

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, rpmKey(tenantID), redis.Z{Score: score, Member: member})
	pipe.ZAdd(ctx, tpmKey(tenantID), redis.Z{Score: score, Member: tpmMember(member, estimatedTokens)})
	pipe.Expire(ctx, rpmKey(tenantID), minuteKeyTTL)
	pipe.Expire(ctx, tpmKey(tenantID), minuteKeyTTL)
	pipe.IncrBy(ctx, dailyRequestsKey(tenantID, now), 1)
	pipe.IncrBy(ctx, dailyTokensKey(tenantID, now), estimatedTokens)
	pipe.Expire(ctx, dailyRequestsKey(tenantID, now), dailyKeyTTL)
	pipe.Expire(ctx, dailyTokensKey(tenantID, now), dailyKeyTTL)

	_, errExec := pipe.Exec(ctx)
	return errExec
}

// tpmMember encodes a unique event token together with its estimated token
// weight so the window sum can be recomputed from the set alone.
func tpmMember(member string, tokens int64) string {
	return member + ":" + strconv.FormatInt(tokens, 10)
}

// tokenWeight parses the token weight back out of a tpm member.
func tokenWeight(member any) int64 {
	s, ok := member.(string)
	if !ok {
		return 0
	}
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return 0
	}
	weight, errParse := strconv.ParseInt(s[idx+1:], 10, 64)
	if errParse != nil {
		return 0
	}
	return weight
}

// counterValue reads an integer accumulator, treating a missing key as zero.
func counterValue(cmd *redis.StringCmd) int64 {
	val, errInt := cmd.Int64()
	if errInt != nil {
		return 0
	}
	return val
}
