package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/api/middleware"
	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// AccountStore is the account persistence the HTTP facade needs.
type AccountStore interface {
	Create(ctx context.Context, account *entities.Account) error
	GetByID(ctx context.Context, accountID int64) (*entities.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*entities.Account, error)
	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) (*entities.Account, error)
	LogicalDelete(ctx context.Context, accountID int64) error
}

// BalanceEngine applies idempotent balance operations.
type BalanceEngine interface {
	Apply(ctx context.Context, accountID int64, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error)
}

// OperationLister reads the operation audit log.
type OperationLister interface {
	ListByAccount(ctx context.Context, accountID int64) ([]*entities.BalanceOperation, error)
}

// AccountHandlers is the HTTP facade of the account service. All
// authorization happens here; the balance engine below performs none.
type AccountHandlers struct {
	accounts   AccountStore
	engine     BalanceEngine
	operations OperationLister
	logger     *logger.Logger
}

// NewAccountHandlers creates the account HTTP facade.
func NewAccountHandlers(accounts AccountStore, engine BalanceEngine, operations OperationLister, log *logger.Logger) *AccountHandlers {
	return &AccountHandlers{
		accounts:   accounts,
		engine:     engine,
		operations: operations,
		logger:     log,
	}
}

func accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		SendValidationError(c, "invalid account id", map[string]string{"id": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

// CreateAccount handles POST /api/accounts
func (h *AccountHandlers) CreateAccount(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var req entities.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}

	// Non-privileged callers only open accounts for themselves.
	if !principal.IsPrivileged() {
		req.OwnerID = principal.Name
	}

	if err := req.Validate(); err != nil {
		SendError(c, apperrors.Validation(apperrors.CodeInvalidValue, err.Error()))
		return
	}

	account := &entities.Account{
		OwnerID:      req.OwnerID,
		AccountType:  req.AccountType,
		Balance:      decimal.Zero,
		CreditLimit:  req.CreditLimit,
		InterestRate: req.InterestRate,
		Version:      1,
	}
	if req.InitialBalance != nil {
		account.Balance = *req.InitialBalance
	}

	if err := h.accounts.Create(c.Request.Context(), account); err != nil {
		h.logger.Error("Failed to create account", "owner_id", req.OwnerID, "error", err)
		SendError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, account)
}

// GetAccount handles GET /api/accounts/:id
func (h *AccountHandlers) GetAccount(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	id, ok := accountID(c)
	if !ok {
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		SendError(c, err)
		return
	}

	if !principal.IsPrivileged() && !principal.Owns(account.OwnerID) {
		SendError(c, apperrors.Forbidden("not allowed to view this account"))
		return
	}

	c.JSON(http.StatusOK, account)
}

// ListAccounts handles GET /api/accounts
func (h *AccountHandlers) ListAccounts(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	ownerID := c.Query("ownerId")
	// Non-privileged list queries are silently scoped to the caller.
	if !principal.IsPrivileged() {
		ownerID = principal.Name
	}
	if ownerID == "" {
		SendValidationError(c, "ownerId query parameter is required", nil)
		return
	}

	accounts, err := h.accounts.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		SendError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "count": len(accounts)})
}

// ApplyBalanceOperation handles POST /api/accounts/:id/balance-operations.
// Privileged only; this is the inter-service mutation path.
func (h *AccountHandlers) ApplyBalanceOperation(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req entities.BalanceOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}

	result, err := h.engine.Apply(c.Request.Context(), id, &req)
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SetBalance handles PUT /api/accounts/:id/balance. Privileged only.
func (h *AccountHandlers) SetBalance(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req entities.SetBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendValidationError(c, "invalid request body", nil)
		return
	}

	account, err := h.accounts.SetBalance(c.Request.Context(), id, req.Balance)
	if err != nil {
		SendError(c, err)
		return
	}

	h.logger.Warn("Account balance set directly", "account_id", id, "balance", req.Balance.StringFixed(2))
	c.JSON(http.StatusOK, account)
}

// DeleteAccount handles DELETE /api/accounts/:id. Logical delete only,
// so transaction history keeps its references. Privileged only.
func (h *AccountHandlers) DeleteAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	if err := h.accounts.LogicalDelete(c.Request.Context(), id); err != nil {
		SendError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListBalanceOperations handles GET /api/accounts/:id/operations
func (h *AccountHandlers) ListBalanceOperations(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	id, ok := accountID(c)
	if !ok {
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		SendError(c, err)
		return
	}
	if !principal.IsPrivileged() && !principal.Owns(account.OwnerID) {
		SendError(c, apperrors.Forbidden("not allowed to view this account"))
		return
	}

	operations, err := h.operations.ListByAccount(c.Request.Context(), id)
	if err != nil {
		SendError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"operations": operations, "count": len(operations)})
}
