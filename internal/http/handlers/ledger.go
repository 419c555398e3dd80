package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Me(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	acct, err := h.Engine.Read(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	pending, _ := h.Engine.PendingCount(id)
	c.JSON(http.StatusOK, gin.H{
		"account": acct,
		"pending": pending,
	})
}

// History returns the latest ledger entries, newest first.
func (h *Handler) History(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	entries, err := h.Store.ListLedgerEntries(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) StartFarming(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := h.Claims.StartFarming(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "farming"})
}

func (h *Handler) ClaimFarming(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	res, err := h.Claims.ClaimFarming(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ClaimDaily(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	res, err := h.Claims.ClaimDaily(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CompleteTask(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := h.Claims.CompleteTask(c.Request.Context(), id, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id"), "status": "completed"})
}

type ClaimTaskRequest struct {
	Reward int64 `json:"reward" binding:"required,gt=0"`
}

func (h *Handler) ClaimTask(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req ClaimTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reward must be a positive integer")
		return
	}
	res, err := h.Claims.ClaimTask(c.Request.Context(), id, c.Param("id"), req.Reward)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
