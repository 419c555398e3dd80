package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type ApplyReferralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
}

// ApplyReferral attributes the caller to a referrer. Repeats are no-ops.
func (h *Handler) ApplyReferral(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "referrer_id is required")
		return
	}
	applied, err := h.Referrals.AttributeReferral(c.Request.Context(), id, req.ReferrerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (h *Handler) ReferralStats(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	stats, err := h.Referrals.Stats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
