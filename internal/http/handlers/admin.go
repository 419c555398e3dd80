package handlers

import (
	"net/http"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/ledger"
	"points_ledger/internal/logger"
	"points_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

type RegisterAccountRequest struct {
	AccountID  string `json:"account_id" binding:"required"`
	ReferrerID string `json:"referrer_id"`
}

// RegisterAccount creates the account for an identity verified upstream and
// issues its session token.
func (h *Handler) RegisterAccount(c *gin.Context) {
	var req RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "account_id is required")
		return
	}
	acct, err := h.Referrals.RegisterAccount(c.Request.Context(), req.AccountID, req.ReferrerID)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := service.GenerateJWT(acct.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "token": token})
}

type UpdateWithdrawalRequest struct {
	Status domain.WithdrawalStatus `json:"status" binding:"required"`
	Notes  string                  `json:"notes"`
}

func (h *Handler) UpdateWithdrawal(c *gin.Context) {
	var req UpdateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	w, err := h.Withdrawals.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Info("withdrawal status updated", "withdrawal_id", w.ID, "status", w.Status)
	c.JSON(http.StatusOK, w)
}

type DeltaRequest struct {
	Coins       int64          `json:"coins"`
	XP          int64          `json:"xp"`
	Reason      string         `json:"reason"`
	Metadata    map[string]any `json:"metadata"`
	OperationID string         `json:"operation_id"`
}

// ApplyDelta is the operator adjustment endpoint. It goes through the sync
// engine so adjustments made while the store is down are queued.
func (h *Handler) ApplyDelta(c *gin.Context) {
	var req DeltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid delta")
		return
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonAdjustment
	}
	d, err := ledger.NewDelta(c.Param("id"), req.Coins, req.XP, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	d = d.WithMetadata(req.Metadata).WithOperation(req.OperationID)

	res, err := h.Engine.ApplyDelta(c.Request.Context(), d)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

type ActivateVIPRequest struct {
	Tier domain.VIPTier `json:"tier" binding:"required"`
	Days int            `json:"days"`
}

func (h *Handler) ActivateVIP(c *gin.Context) {
	var req ActivateVIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "tier is required")
		return
	}
	acct, err := h.VIP.Activate(c.Request.Context(), c.Param("id"), req.Tier, time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}
