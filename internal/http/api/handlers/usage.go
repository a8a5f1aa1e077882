package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokenmeter/tokenmeter/internal/usage"
)

// UsageHandler handles usage recording and statistics endpoints.
type UsageHandler struct {
	ledger *usage.Ledger
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(ledger *usage.Ledger) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// Record appends one usage record. The upstream call already happened, so the
// write is best effort and always acknowledged; failures are logged, not
// returned.
func (h *UsageHandler) Record(c *gin.Context) {
	var rec usage.Record
	if errBind := c.ShouldBindJSON(&rec); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec.TenantID = c.Param("tenant")

	h.ledger.Record(c.Request.Context(), rec)
	c.Status(http.StatusAccepted)
}

// Stats returns aggregated usage for a tenant over day, week, or month.
func (h *UsageHandler) Stats(c *gin.Context) {
	period, errParse := usage.ParsePeriod(c.Query("period"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be day, week, or month"})
		return
	}

	stats, errStats := h.ledger.Stats(c.Request.Context(), c.Param("tenant"), period)
	if errStats != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query usage failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
