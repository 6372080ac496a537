package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/api/middleware"
	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/internal/domain/services/transaction"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// TransactionHandlers is the HTTP facade of the transaction service.
type TransactionHandlers struct {
	service *transaction.Service
	logger  *logger.Logger
}

// NewTransactionHandlers creates the transaction HTTP facade.
func NewTransactionHandlers(service *transaction.Service, log *logger.Logger) *TransactionHandlers {
	return &TransactionHandlers{service: service, logger: log}
}

// Transfer handles POST /api/transactions/transfer
func (h *TransactionHandlers) Transfer(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req entities.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}

	tx, err := h.service.Transfer(c.Request.Context(), principal, &req, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Deposit handles POST /api/transactions/deposit
func (h *TransactionHandlers) Deposit(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req entities.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}

	tx, err := h.service.Deposit(c.Request.Context(), principal, &req, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Withdraw handles POST /api/transactions/withdraw
func (h *TransactionHandlers) Withdraw(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req entities.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}

	tx, err := h.service.Withdraw(c.Request.Context(), principal, &req, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Reverse handles POST /api/transactions/:id/reverse
func (h *TransactionHandlers) Reverse(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req entities.ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}
	if err := req.Validate(); err != nil {
		SendError(c, apperrors.Validation(apperrors.CodeInvalidValue, err.Error()))
		return
	}

	tx, err := h.service.Reverse(c.Request.Context(), principal, c.Param("id"), req.Reason, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// GetTransaction handles GET /api/transactions/:id
func (h *TransactionHandlers) GetTransaction(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	tx, err := h.service.GetTransaction(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// History handles GET /api/transactions/account/:id
func (h *TransactionHandlers) History(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	page, size, sort := pagination(c)
	result, err := h.service.History(c.Request.Context(), principal, c.Param("id"), page, size, sort)
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Search handles GET /api/transactions/search
func (h *TransactionHandlers) Search(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	filter, err := parseSearchFilter(c)
	if err != nil {
		SendError(c, apperrors.Validation(apperrors.CodeInvalidValue, err.Error()))
		return
	}

	result, err := h.service.Search(c.Request.Context(), principal, filter)
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func parseSearchFilter(c *gin.Context) (*entities.TransactionSearchFilter, error) {
	page, size, sort := pagination(c)
	filter := &entities.TransactionSearchFilter{
		OwnerID:   c.Query("ownerId"),
		AccountID: c.Query("accountId"),
		Page:      page,
		Size:      size,
		Sort:      sort,
	}

	if v := c.Query("type"); v != "" {
		txType := entities.TransactionType(v)
		filter.Type = &txType
	}
	if v := c.Query("status"); v != "" {
		status := entities.TransactionStatus(v)
		filter.Status = &status
	}
	if v := c.Query("minAmount"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, apperrors.Validation(apperrors.CodeInvalidValue, "minAmount must be a decimal number")
		}
		filter.MinAmount = &amount
	}
	if v := c.Query("maxAmount"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, apperrors.Validation(apperrors.CodeInvalidValue, "maxAmount must be a decimal number")
		}
		filter.MaxAmount = &amount
	}
	if v := c.Query("createdAfter"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, apperrors.Validation(apperrors.CodeInvalidValue, "createdAfter must be RFC3339")
		}
		filter.CreatedAfter = &ts
	}
	if v := c.Query("createdBefore"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, apperrors.Validation(apperrors.CodeInvalidValue, "createdBefore must be RFC3339")
		}
		filter.CreatedBefore = &ts
	}

	return filter, nil
}
