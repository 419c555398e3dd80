package handlers

import (
	"net/http"
	"strconv"

	"points_ledger/internal/domain"
	"points_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) CreateWithdrawal(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var in service.WithdrawalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid withdrawal request")
		return
	}
	in.AccountID = id

	res, err := h.Withdrawals.CreateWithdrawal(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type EstimateRequest struct {
	Amount int64                   `json:"amount"`
	Method domain.WithdrawalMethod `json:"method"`
}

func (h *Handler) EstimateWithdrawal(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid estimate request")
		return
	}
	est, err := h.Withdrawals.EstimateFee(req.Amount, req.Method)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, est)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Withdrawals.ListWithdrawals(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []*domain.WithdrawalRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}
