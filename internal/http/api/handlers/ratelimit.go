package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tokenmeter/tokenmeter/internal/ratelimit"
)

// RateLimitHandler handles admission checks and status snapshots.
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
}

// NewRateLimitHandler constructs a RateLimitHandler.
func NewRateLimitHandler(limiter *ratelimit.Limiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// checkRequest is the admission check payload.
type checkRequest struct {
	EstimatedTokens int64 `json:"estimated_tokens"`
}

// decisionResponse is the wire shape of an admission decision.
type decisionResponse struct {
	Allowed      bool                `json:"allowed"`
	Reason       string              `json:"reason,omitempty"`
	RetryAfterMs int64               `json:"retry_after_ms,omitempty"`
	Remaining    ratelimit.Remaining `json:"remaining"`
}

// Check admits or denies one estimated request for a tenant. A deny renders
// as 429 with a machine-readable reason and retry hint, never as a failure.
func (h *RateLimitHandler) Check(c *gin.Context) {
	tenantID := c.Param("tenant")

	var req checkRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	decision, errCheck := h.limiter.CheckAndConsume(c.Request.Context(), tenantID, req.EstimatedTokens)
	if errCheck != nil {
		// Counter store unreachable: deny rather than let usage through unmetered.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limit check unavailable"})
		return
	}

	resp := decisionResponse{
		Allowed:      decision.Allowed,
		Reason:       string(decision.Reason),
		RetryAfterMs: decision.RetryAfterMs(),
		Remaining:    decision.Remaining,
	}
	if !decision.Allowed {
		seconds := (decision.RetryAfterMs() + 999) / 1000
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		c.JSON(http.StatusTooManyRequests, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Status returns limits, current usage, and remaining capacity without
// consuming, for display to users approaching their cap.
func (h *RateLimitHandler) Status(c *gin.Context) {
	status, errStatus := h.limiter.Status(c.Request.Context(), c.Param("tenant"))
	if errStatus != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limit status unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}
