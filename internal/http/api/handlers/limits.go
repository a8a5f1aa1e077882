package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokenmeter/tokenmeter/internal/limits"
)

// LimitsHandler handles administrative tenant limits endpoints.
type LimitsHandler struct {
	store *limits.Store
}

// NewLimitsHandler constructs a LimitsHandler.
func NewLimitsHandler(store *limits.Store) *LimitsHandler {
	return &LimitsHandler{store: store}
}

// Get returns the effective limits for a tenant, configured or default.
func (h *LimitsHandler) Get(c *gin.Context) {
	lim, errGet := h.store.Get(c.Request.Context(), c.Param("tenant"))
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query limits failed"})
		return
	}
	c.JSON(http.StatusOK, lim)
}

// Update applies a partial limits update. Invalid values are rejected with a
// validation error, never silently clamped.
func (h *LimitsHandler) Update(c *gin.Context) {
	var patch limits.Patch
	if errBind := c.ShouldBindJSON(&patch); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, errUpdate := h.store.Update(c.Request.Context(), c.Param("tenant"), patch)
	if errUpdate != nil {
		if errors.Is(errUpdate, limits.ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errUpdate.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update limits failed"})
		return
	}
	c.JSON(http.StatusOK, updated)
}
