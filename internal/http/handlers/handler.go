package handlers

import (
	"errors"
	"net/http"

	"points_ledger/internal/domain"
	"points_ledger/internal/http/middleware"
	"points_ledger/internal/logger"
	"points_ledger/internal/service"
	"points_ledger/internal/store"
	"points_ledger/internal/syncengine"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Store       store.Store
	Engine      *syncengine.Engine
	Claims      *service.ClaimService
	Withdrawals *service.WithdrawalService
	Referrals   *service.ReferralService
	VIP         *service.VIPService
}

// accountID reads the account id set by the JWT middleware.
func accountID(c *gin.Context) (string, bool) {
	id, ok := middleware.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
	}
	return id, ok
}

var statusByCode = map[string]int{
	domain.CodeValidation:          http.StatusBadRequest,
	domain.CodeInsufficientBalance: http.StatusPaymentRequired,
	domain.CodeNotFound:            http.StatusNotFound,
	domain.CodeAlreadyClaimed:      http.StatusConflict,
	domain.CodeLimitExceeded:       http.StatusUnprocessableEntity,
	domain.CodeSync:                http.StatusServiceUnavailable,
}

// respondError maps a ledger error to its status code. Unknown errors are
// logged and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	var le *domain.Error
	if errors.As(err, &le) {
		if status, ok := statusByCode[le.Code]; ok {
			msg := le.Message
			if le.Code == domain.CodeSync {
				msg = "ledger temporarily unavailable"
			}
			c.JSON(status, gin.H{"error": msg, "code": le.Code})
			return
		}
	}
	logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": domain.CodeValidation})
}
