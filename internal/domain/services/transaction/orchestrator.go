package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
	"github.com/ledger-stack/ledger_service/pkg/metrics"
)

// reversalWindow is how long after creation a completed transaction can
// still be reversed.
const reversalWindow = 30 * 24 * time.Hour

// TransactionStore is the transaction persistence the orchestrator needs.
type TransactionStore interface {
	Create(ctx context.Context, tx *entities.Transaction) error
	GetByID(ctx context.Context, id string) (*entities.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, createdBy string, txType entities.TransactionType, key string) (*entities.Transaction, error)
	UpdateState(ctx context.Context, id string, status entities.TransactionStatus, state entities.ProcessingState) error
	SetFromLegBalances(ctx context.Context, id string, before, after decimal.Decimal) error
	SetToLegBalances(ctx context.Context, id string, before, after decimal.Decimal) error
	MarkCompleted(ctx context.Context, id string) error
	MarkReversed(ctx context.Context, originalID, reversalID, reversedBy, reason string) error
	ListByAccount(ctx context.Context, accountID string, page, size int, sort string) (*entities.TransactionPage, error)
	Search(ctx context.Context, filter *entities.TransactionSearchFilter) (*entities.TransactionPage, error)
}

// AccountAPI is the resilient account service client surface.
type AccountAPI interface {
	GetAccount(ctx context.Context, accountID string) (*entities.Account, error)
	ApplyBalanceOperation(ctx context.Context, accountID string, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error)
}

// LimitChecker answers whether an operation is within limits.
type LimitChecker interface {
	Check(ctx context.Context, accountID string, accountType entities.AccountType, txType entities.TransactionType, amount decimal.Decimal) (entities.LimitDecision, error)
}

// HistoryCache memoizes history pages and supports coarse invalidation.
type HistoryCache interface {
	GetPage(ctx context.Context, accountID string, page, size int, sort string) (*entities.TransactionPage, bool)
	SetPage(ctx context.Context, accountID string, result *entities.TransactionPage)
	Invalidate(ctx context.Context)
}

// Service orchestrates money movement: it drives each transaction
// through its legs, compensates partial failures, and is the only
// writer of the transaction store.
type Service struct {
	store    TransactionStore
	accounts AccountAPI
	limits   LimitChecker
	cache    HistoryCache
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates a transaction orchestrator.
func NewService(store TransactionStore, accounts AccountAPI, limits LimitChecker, cache HistoryCache, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		limits:   limits,
		cache:    cache,
		logger:   log,
		now:      time.Now,
	}
}

// Transfer moves amount between two accounts with compensation on
// partial failure.
func (s *Service) Transfer(ctx context.Context, principal entities.Principal, req *entities.TransferRequest, idempotencyKey string) (*entities.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidValue, err.Error())
	}
	if entities.IsExternalAccount(req.FromAccountID) || entities.IsExternalAccount(req.ToAccountID) {
		return nil, apperrors.Validation(apperrors.CodeInvalidValue,
			"transfers require two real accounts; use deposit or withdraw for external movement")
	}
	if principal.Name == "" {
		return nil, apperrors.Forbidden("authenticated principal required")
	}

	if existing, ok, err := s.replayIdempotent(ctx, principal.Name, entities.TransactionTypeTransfer, idempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	// Pre-checks abort before any transaction row exists; only an audit
	// trail is left behind.
	fromAccount, err := s.precheckSourceAccount(ctx, principal, entities.TransactionTypeTransfer, req.FromAccountID, req.Amount)
	if err != nil {
		return nil, err
	}
	if fromAccount.Balance.LessThan(req.Amount) {
		s.audit(principal, entities.TransactionTypeTransfer, req.FromAccountID, req.Amount, "insufficient funds pre-check")
		return nil, apperrors.ErrInsufficientFunds
	}

	tx := s.newTransaction(principal, entities.TransactionTypeTransfer, req.FromAccountID, req.ToAccountID,
		req.Amount, req.Currency, req.Description, req.Reference, idempotencyKey)

	created, err := s.createOrReplay(ctx, tx)
	if err != nil || created != nil {
		return created, err
	}

	// The request context must not abort a transaction mid-flight; once
	// the row exists the legs run to a terminal state regardless.
	return s.runTransfer(context.WithoutCancel(ctx), tx)
}

func (s *Service) runTransfer(ctx context.Context, tx *entities.Transaction) (*entities.Transaction, error) {
	defer s.cache.Invalidate(ctx)

	debit, err := s.accounts.ApplyBalanceOperation(ctx, tx.FromAccountID, &entities.BalanceOperationRequest{
		OperationID:   tx.DebitOperationID(),
		Delta:         tx.Amount.Neg(),
		TransactionID: tx.ID,
		Reason:        "transfer debit",
		AllowNegative: false,
	})
	if err != nil {
		s.failTransaction(ctx, tx, entities.ProcessingStateInitiated)
		metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusFailed))
		return nil, err
	}
	if !debit.Applied {
		s.failTransaction(ctx, tx, entities.ProcessingStateInitiated)
		metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusFailed))
		return nil, apperrors.ErrInsufficientFunds
	}

	s.recordFromLeg(ctx, tx, debit)
	if err := s.store.UpdateState(ctx, tx.ID, entities.TransactionStatusProcessing, entities.ProcessingStateDebitApplied); err != nil {
		return nil, apperrors.Internal(err)
	}

	credit, err := s.accounts.ApplyBalanceOperation(ctx, tx.ToAccountID, &entities.BalanceOperationRequest{
		OperationID:   tx.CreditOperationID(),
		Delta:         tx.Amount,
		TransactionID: tx.ID,
		Reason:        "transfer credit",
		AllowNegative: true,
	})
	if err != nil {
		return nil, s.compensate(ctx, tx, err)
	}
	if !credit.Applied {
		// The engine never rejects an allow-negative credit today, but a
		// rejected credit must compensate the debit, not complete.
		return nil, s.compensate(ctx, tx, apperrors.Business(apperrors.CodeInvalidState,
			"credit leg rejected by the balance engine", http.StatusConflict))
	}

	s.recordToLeg(ctx, tx, credit)
	if err := s.store.UpdateState(ctx, tx.ID, entities.TransactionStatusProcessing, entities.ProcessingStateCreditApplied); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.store.MarkCompleted(ctx, tx.ID); err != nil {
		return nil, apperrors.Internal(err)
	}

	metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusCompleted))
	s.logger.Info("Transaction completed", "transaction_id", tx.ID, "type", tx.Type)

	return s.store.GetByID(ctx, tx.ID)
}

// compensate undoes a successful debit after the credit leg failed.
// Either the funds come back or the transaction escalates to manual
// action; a 503 is never surfaced while funds stay withdrawn.
func (s *Service) compensate(ctx context.Context, tx *entities.Transaction, cause error) error {
	s.logger.Warn("Credit leg failed, compensating",
		"transaction_id", tx.ID, "error", cause)

	_, compErr := s.accounts.ApplyBalanceOperation(ctx, tx.FromAccountID, &entities.BalanceOperationRequest{
		OperationID:   tx.CompensateOperationID(),
		Delta:         tx.Amount,
		TransactionID: tx.ID,
		Reason:        "compensation",
		AllowNegative: true,
	})
	if compErr != nil {
		s.logger.Error("Compensation failed, manual action required",
			"transaction_id", tx.ID, "error", compErr)
		if err := s.store.UpdateState(ctx, tx.ID,
			entities.TransactionStatusFailedManualAction, entities.ProcessingStateManualActionRequired); err != nil {
			s.logger.Error("Failed to record manual-action state", "transaction_id", tx.ID, "error", err)
		}
		metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusFailedManualAction))
		manualErr := apperrors.New(apperrors.ErrorTypeInternal, apperrors.CodeInternalError,
			fmt.Sprintf("transaction %s could not be completed or compensated; manual action required", tx.ID),
			http.StatusInternalServerError)
		manualErr.TransactionID = tx.ID
		return manualErr
	}

	if err := s.store.UpdateState(ctx, tx.ID,
		entities.TransactionStatusFailed, entities.ProcessingStateCompensated); err != nil {
		s.logger.Error("Failed to record compensated state", "transaction_id", tx.ID, "error", err)
	}
	metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusFailed))

	if appErr, ok := apperrors.AsAppError(cause); ok {
		if appErr.Type == apperrors.ErrorTypeNotFound {
			return apperrors.Business(apperrors.CodeAccountNotFound,
				"destination account not found", http.StatusBadRequest)
		}
		return cause
	}
	return apperrors.Internal(cause)
}

// Deposit credits an account from outside the system. Single leg, no
// compensation needed.
func (s *Service) Deposit(ctx context.Context, principal entities.Principal, req *entities.DepositRequest, idempotencyKey string) (*entities.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidValue, err.Error())
	}
	if principal.Name == "" {
		return nil, apperrors.Forbidden("authenticated principal required")
	}

	if existing, ok, err := s.replayIdempotent(ctx, principal.Name, entities.TransactionTypeDeposit, idempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	if _, err := s.precheckSourceAccount(ctx, principal, entities.TransactionTypeDeposit, req.AccountID, req.Amount); err != nil {
		return nil, err
	}

	tx := s.newTransaction(principal, entities.TransactionTypeDeposit, entities.ExternalAccountID, req.AccountID,
		req.Amount, req.Currency, req.Description, req.Reference, idempotencyKey)

	created, err := s.createOrReplay(ctx, tx)
	if err != nil || created != nil {
		return created, err
	}

	return s.runSingleLeg(context.WithoutCancel(ctx), tx, req.AccountID, tx.Amount, tx.DepositOperationID(), true)
}

// Withdraw debits an account to outside the system. Fails terminally on
// insufficient funds.
func (s *Service) Withdraw(ctx context.Context, principal entities.Principal, req *entities.WithdrawRequest, idempotencyKey string) (*entities.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidValue, err.Error())
	}
	if principal.Name == "" {
		return nil, apperrors.Forbidden("authenticated principal required")
	}

	if existing, ok, err := s.replayIdempotent(ctx, principal.Name, entities.TransactionTypeWithdrawal, idempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	account, err := s.precheckSourceAccount(ctx, principal, entities.TransactionTypeWithdrawal, req.AccountID, req.Amount)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(req.Amount) {
		s.audit(principal, entities.TransactionTypeWithdrawal, req.AccountID, req.Amount, "insufficient funds pre-check")
		return nil, apperrors.ErrInsufficientFunds
	}

	tx := s.newTransaction(principal, entities.TransactionTypeWithdrawal, req.AccountID, entities.ExternalAccountID,
		req.Amount, req.Currency, req.Description, req.Reference, idempotencyKey)

	created, err := s.createOrReplay(ctx, tx)
	if err != nil || created != nil {
		return created, err
	}

	return s.runSingleLeg(context.WithoutCancel(ctx), tx, req.AccountID, tx.Amount.Neg(), tx.WithdrawalOperationID(), false)
}

func (s *Service) runSingleLeg(ctx context.Context, tx *entities.Transaction, accountID string, delta decimal.Decimal, operationID string, allowNegative bool) (*entities.Transaction, error) {
	defer s.cache.Invalidate(ctx)

	result, err := s.accounts.ApplyBalanceOperation(ctx, accountID, &entities.BalanceOperationRequest{
		OperationID:   operationID,
		Delta:         delta,
		TransactionID: tx.ID,
		Reason:        string(tx.Type),
		AllowNegative: allowNegative,
	})
	if err != nil {
		s.failTransaction(ctx, tx, entities.ProcessingStateInitiated)
		metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusFailed))
		return nil, err
	}
	if !result.Applied {
		s.failTransaction(ctx, tx, entities.ProcessingStateInitiated)
		metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusFailed))
		return nil, apperrors.ErrInsufficientFunds
	}

	if delta.IsNegative() {
		s.recordFromLeg(ctx, tx, result)
	} else {
		s.recordToLeg(ctx, tx, result)
	}

	if err := s.store.MarkCompleted(ctx, tx.ID); err != nil {
		return nil, apperrors.Internal(err)
	}

	metrics.RecordTransaction(string(tx.Type), string(entities.TransactionStatusCompleted))
	s.logger.Info("Transaction completed", "transaction_id", tx.ID, "type", tx.Type)

	return s.store.GetByID(ctx, tx.ID)
}

// Reverse creates and runs a reversal of a completed transaction.
func (s *Service) Reverse(ctx context.Context, principal entities.Principal, originalID, reason, idempotencyKey string) (*entities.Transaction, error) {
	if principal.Name == "" {
		return nil, apperrors.Forbidden("authenticated principal required")
	}

	// The replay lookup runs before the preconditions: after a successful
	// reversal the original is REVERSED, and a retried request must still
	// observe the stored reversal rather than a precondition failure.
	if existing, ok, err := s.replayIdempotent(ctx, principal.Name, entities.TransactionTypeReversal, idempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	original, err := s.store.GetByID(ctx, originalID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction not found")
		}
		return nil, apperrors.Internal(err)
	}

	if !principal.IsPrivileged() && !principal.Owns(original.CreatedBy) {
		return nil, apperrors.Forbidden("not allowed to reverse this transaction")
	}
	if original.Status != entities.TransactionStatusCompleted {
		return nil, apperrors.Business(apperrors.CodeInvalidState,
			fmt.Sprintf("transaction in status %s cannot be reversed", original.Status), http.StatusBadRequest)
	}
	if original.Type == entities.TransactionTypeReversal {
		return nil, apperrors.Business(apperrors.CodeCannotReverseReversal,
			"a reversal cannot be reversed", http.StatusBadRequest)
	}
	if s.now().Sub(original.CreatedAt) > reversalWindow {
		return nil, apperrors.Business(apperrors.CodeReversalWindowExpired,
			"the reversal window of 30 days has expired", http.StatusBadRequest)
	}
	if original.ReversalTransactionID != nil {
		return nil, apperrors.Business(apperrors.CodeAlreadyReversed,
			"transaction has already been reversed", http.StatusConflict)
	}

	reversal := s.newTransaction(principal, entities.TransactionTypeReversal,
		original.ToAccountID, original.FromAccountID, original.Amount, original.Currency, "", "", idempotencyKey)
	reversal.OriginalTransactionID = &original.ID
	reversal.ReversalReason = &reason

	created, err := s.createOrReplay(ctx, reversal)
	if err != nil || created != nil {
		return created, err
	}

	return s.runReversal(context.WithoutCancel(ctx), original, reversal, principal, reason)
}

func (s *Service) runReversal(ctx context.Context, original, reversal *entities.Transaction, principal entities.Principal, reason string) (*entities.Transaction, error) {
	defer s.cache.Invalidate(ctx)

	// Either side of the original may be the external sentinel; that
	// leg is skipped rather than sent to the balance engine.
	if !entities.IsExternalAccount(reversal.FromAccountID) {
		debit, err := s.accounts.ApplyBalanceOperation(ctx, reversal.FromAccountID, &entities.BalanceOperationRequest{
			OperationID:   reversal.DebitOperationID(),
			Delta:         reversal.Amount.Neg(),
			TransactionID: reversal.ID,
			Reason:        "reversal debit",
			AllowNegative: false,
		})
		if err != nil {
			s.failTransaction(ctx, reversal, entities.ProcessingStateInitiated)
			metrics.RecordTransaction(string(reversal.Type), string(entities.TransactionStatusFailed))
			return nil, err
		}
		if !debit.Applied {
			s.failTransaction(ctx, reversal, entities.ProcessingStateInitiated)
			metrics.RecordTransaction(string(reversal.Type), string(entities.TransactionStatusFailed))
			return nil, apperrors.ErrInsufficientFunds
		}
		s.recordFromLeg(ctx, reversal, debit)
	}
	if err := s.store.UpdateState(ctx, reversal.ID, entities.TransactionStatusProcessing, entities.ProcessingStateDebitApplied); err != nil {
		return nil, apperrors.Internal(err)
	}

	if !entities.IsExternalAccount(reversal.ToAccountID) {
		credit, err := s.accounts.ApplyBalanceOperation(ctx, reversal.ToAccountID, &entities.BalanceOperationRequest{
			OperationID:   reversal.CreditOperationID(),
			Delta:         reversal.Amount,
			TransactionID: reversal.ID,
			Reason:        "reversal credit",
			AllowNegative: true,
		})
		if err != nil {
			if entities.IsExternalAccount(reversal.FromAccountID) {
				// Nothing was debited; plain failure.
				s.failTransaction(ctx, reversal, entities.ProcessingStateDebitApplied)
				metrics.RecordTransaction(string(reversal.Type), string(entities.TransactionStatusFailed))
				return nil, err
			}
			return nil, s.compensate(ctx, reversal, err)
		}
		if !credit.Applied {
			return nil, s.compensate(ctx, reversal, apperrors.Business(apperrors.CodeInvalidState,
				"credit leg rejected by the balance engine", http.StatusConflict))
		}
		s.recordToLeg(ctx, reversal, credit)
	}
	if err := s.store.UpdateState(ctx, reversal.ID, entities.TransactionStatusProcessing, entities.ProcessingStateCreditApplied); err != nil {
		return nil, apperrors.Internal(err)
	}

	if err := s.store.MarkReversed(ctx, original.ID, reversal.ID, principal.Name, reason); err != nil {
		return nil, err
	}

	metrics.RecordTransaction(string(reversal.Type), string(entities.TransactionStatusCompleted))
	s.logger.Info("Transaction reversed",
		"transaction_id", original.ID, "reversal_id", reversal.ID, "reversed_by", principal.Name)

	return s.store.GetByID(ctx, reversal.ID)
}

// GetTransaction returns a transaction visible to the principal.
func (s *Service) GetTransaction(ctx context.Context, principal entities.Principal, id string) (*entities.Transaction, error) {
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction not found")
		}
		return nil, apperrors.Internal(err)
	}
	if !principal.IsPrivileged() && !principal.Owns(tx.CreatedBy) {
		return nil, apperrors.Forbidden("not allowed to view this transaction")
	}
	return tx, nil
}

// History returns a page of transactions for an account, served from
// cache when possible.
func (s *Service) History(ctx context.Context, principal entities.Principal, accountID string, page, size int, sort string) (*entities.TransactionPage, error) {
	if !principal.IsPrivileged() {
		account, err := s.accounts.GetAccount(ctx, accountID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				// Non-owners never learn whether the account exists.
				return nil, apperrors.Forbidden("not allowed to view this account")
			}
			return nil, err
		}
		if !principal.Owns(account.OwnerID) {
			return nil, apperrors.Forbidden("not allowed to view this account")
		}
	}

	if cached, ok := s.cache.GetPage(ctx, accountID, page, size, sort); ok {
		return cached, nil
	}

	result, err := s.store.ListByAccount(ctx, accountID, page, size, sort)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.cache.SetPage(ctx, accountID, result)
	return result, nil
}

// Search returns transactions matching the filter. Non-privileged
// principals are silently scoped to their own transactions.
func (s *Service) Search(ctx context.Context, principal entities.Principal, filter *entities.TransactionSearchFilter) (*entities.TransactionPage, error) {
	if !principal.IsPrivileged() {
		filter.OwnerID = principal.Name
	}
	if err := filter.Validate(); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidValue, err.Error())
	}

	result, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return result, nil
}

// ===== helpers =====

func (s *Service) newTransaction(principal entities.Principal, txType entities.TransactionType,
	from, to string, amount decimal.Decimal, currency, description, reference, idempotencyKey string) *entities.Transaction {

	if currency == "" {
		currency = "USD"
	}

	tx := &entities.Transaction{
		ID:              uuid.New().String(),
		FromAccountID:   from,
		ToAccountID:     to,
		Amount:          amount,
		Currency:        currency,
		Type:            txType,
		Status:          entities.TransactionStatusProcessing,
		ProcessingState: entities.ProcessingStateInitiated,
		CreatedBy:       principal.Name,
		CreatedAt:       s.now(),
	}
	if description != "" {
		tx.Description = &description
	}
	if reference != "" {
		tx.Reference = &reference
	}
	if idempotencyKey != "" {
		tx.IdempotencyKey = &idempotencyKey
	}
	return tx
}

// replayIdempotent returns the stored transaction for a repeated
// idempotency key, if any.
func (s *Service) replayIdempotent(ctx context.Context, createdBy string, txType entities.TransactionType, key string) (*entities.Transaction, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	existing, err := s.store.GetByIdempotencyKey(ctx, createdBy, txType, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.Internal(err)
	}

	s.logger.Info("Idempotency key replay",
		"transaction_id", existing.ID, "type", txType, "created_by", createdBy)
	return existing, true, nil
}

// createOrReplay persists the new transaction row. When a concurrent
// request won the unique-key race, the winner's row is returned instead.
func (s *Service) createOrReplay(ctx context.Context, tx *entities.Transaction) (*entities.Transaction, error) {
	err := s.store.Create(ctx, tx)
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, apperrors.ErrDuplicateKey) && tx.IdempotencyKey != nil {
		existing, lookupErr := s.store.GetByIdempotencyKey(ctx, tx.CreatedBy, tx.Type, *tx.IdempotencyKey)
		if lookupErr != nil {
			return nil, apperrors.Internal(lookupErr)
		}
		return existing, nil
	}
	return nil, apperrors.Internal(err)
}

// precheckSourceAccount resolves the account, enforces ownership and
// consults the limit evaluator.
func (s *Service) precheckSourceAccount(ctx context.Context, principal entities.Principal, txType entities.TransactionType, accountID string, amount decimal.Decimal) (*entities.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !principal.IsPrivileged() && !principal.Owns(account.OwnerID) {
		s.audit(principal, txType, accountID, amount, "ownership check failed")
		return nil, apperrors.Forbidden("not allowed to operate on this account")
	}

	decision, err := s.limits.Check(ctx, accountID, account.AccountType, txType, amount)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !decision.Allowed {
		s.audit(principal, txType, accountID, amount, "limit check: "+decision.Reason)
		return nil, apperrors.Business(apperrors.CodeLimitExceeded, decision.Reason, http.StatusBadRequest)
	}

	return account, nil
}

// failTransaction records a terminal failure, keeping the processing
// state at the point the failure happened.
func (s *Service) failTransaction(ctx context.Context, tx *entities.Transaction, state entities.ProcessingState) {
	if err := s.store.UpdateState(ctx, tx.ID, entities.TransactionStatusFailed, state); err != nil {
		s.logger.Error("Failed to record transaction failure", "transaction_id", tx.ID, "error", err)
	}
}

func (s *Service) recordFromLeg(ctx context.Context, tx *entities.Transaction, result *entities.BalanceOperationResult) {
	before := result.NewBalance.Sub(tx.Amount.Neg())
	if err := s.store.SetFromLegBalances(ctx, tx.ID, before, result.NewBalance); err != nil {
		s.logger.Warn("Failed to record from-leg balances", "transaction_id", tx.ID, "error", err)
	}
}

func (s *Service) recordToLeg(ctx context.Context, tx *entities.Transaction, result *entities.BalanceOperationResult) {
	before := result.NewBalance.Sub(tx.Amount)
	if err := s.store.SetToLegBalances(ctx, tx.ID, before, result.NewBalance); err != nil {
		s.logger.Warn("Failed to record to-leg balances", "transaction_id", tx.ID, "error", err)
	}
}

// audit leaves a structured trail for pre-check rejections, which never
// create transaction rows.
func (s *Service) audit(principal entities.Principal, txType entities.TransactionType, accountID string, amount decimal.Decimal, reason string) {
	s.logger.Info("Transaction rejected before processing",
		"type", txType,
		"account_id", accountID,
		"amount", amount.StringFixed(2),
		"principal", principal.Name,
		"reason", reason,
	)
}
