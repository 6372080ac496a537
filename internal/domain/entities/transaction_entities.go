package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExternalAccountID is the reserved sentinel for funds entering or
// leaving the system. It never maps to a real account.
const ExternalAccountID = "EXTERNAL"

// IsExternalAccount reports whether id is the external sentinel.
// Matching is case-insensitive.
func IsExternalAccount(id string) bool {
	return strings.EqualFold(id, ExternalAccountID)
}

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeReversal   TransactionType = "REVERSAL"
)

// Validate checks if the transaction type is valid
func (t TransactionType) Validate() error {
	switch t {
	case TransactionTypeTransfer, TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeReversal:
		return nil
	default:
		return fmt.Errorf("invalid transaction type: %s", t)
	}
}

// TransactionStatus is the business-level status of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending            TransactionStatus = "PENDING"
	TransactionStatusProcessing         TransactionStatus = "PROCESSING"
	TransactionStatusCompleted          TransactionStatus = "COMPLETED"
	TransactionStatusFailed             TransactionStatus = "FAILED"
	TransactionStatusFailedManualAction TransactionStatus = "FAILED_REQUIRES_MANUAL_ACTION"
	TransactionStatusReversed           TransactionStatus = "REVERSED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusFailedManualAction, TransactionStatusReversed:
		return true
	}
	return false
}

// ProcessingState is the orchestrator's fine-grained progress marker,
// orthogonal to TransactionStatus.
type ProcessingState string

const (
	ProcessingStateInitiated            ProcessingState = "INITIATED"
	ProcessingStateDebitApplied         ProcessingState = "DEBIT_APPLIED"
	ProcessingStateCreditApplied        ProcessingState = "CREDIT_APPLIED"
	ProcessingStateCompleted            ProcessingState = "COMPLETED"
	ProcessingStateCompensated          ProcessingState = "COMPENSATED"
	ProcessingStateManualActionRequired ProcessingState = "MANUAL_ACTION_REQUIRED"
)

// Transaction is a single money movement in the ledger. Either side may
// be the EXTERNAL sentinel for deposits and withdrawals.
type Transaction struct {
	ID              string            `json:"transactionId" db:"id"`
	FromAccountID   string            `json:"fromAccountId" db:"from_account_id"`
	ToAccountID     string            `json:"toAccountId" db:"to_account_id"`
	Amount          decimal.Decimal   `json:"amount" db:"amount"`
	Currency        string            `json:"currency" db:"currency"`
	Type            TransactionType   `json:"type" db:"type"`
	Status          TransactionStatus `json:"status" db:"status"`
	ProcessingState ProcessingState   `json:"processingState" db:"processing_state"`
	Description     *string           `json:"description,omitempty" db:"description"`
	Reference       *string           `json:"reference,omitempty" db:"reference"`
	IdempotencyKey  *string           `json:"idempotencyKey,omitempty" db:"idempotency_key"`
	CreatedBy       string            `json:"createdBy" db:"created_by"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	ProcessedAt     *time.Time        `json:"processedAt,omitempty" db:"processed_at"`

	FromBalanceBefore *decimal.Decimal `json:"fromBalanceBefore,omitempty" db:"from_balance_before"`
	FromBalanceAfter  *decimal.Decimal `json:"fromBalanceAfter,omitempty" db:"from_balance_after"`
	ToBalanceBefore   *decimal.Decimal `json:"toBalanceBefore,omitempty" db:"to_balance_before"`
	ToBalanceAfter    *decimal.Decimal `json:"toBalanceAfter,omitempty" db:"to_balance_after"`

	OriginalTransactionID *string    `json:"originalTransactionId,omitempty" db:"original_transaction_id"`
	ReversalTransactionID *string    `json:"reversalTransactionId,omitempty" db:"reversal_transaction_id"`
	ReversedAt            *time.Time `json:"reversedAt,omitempty" db:"reversed_at"`
	ReversedBy            *string    `json:"reversedBy,omitempty" db:"reversed_by"`
	ReversalReason        *string    `json:"reversalReason,omitempty" db:"reversal_reason"`
}

// DebitOperationID returns the operation id for this transaction's debit leg.
func (t *Transaction) DebitOperationID() string { return t.ID + ":debit" }

// CreditOperationID returns the operation id for this transaction's credit leg.
func (t *Transaction) CreditOperationID() string { return t.ID + ":credit" }

// CompensateOperationID returns the operation id for this transaction's compensation.
func (t *Transaction) CompensateOperationID() string { return t.ID + ":compensate" }

// DepositOperationID returns the operation id for a single-leg deposit.
func (t *Transaction) DepositOperationID() string { return t.ID + ":deposit" }

// WithdrawalOperationID returns the operation id for a single-leg withdrawal.
func (t *Transaction) WithdrawalOperationID() string { return t.ID + ":withdrawal" }

// TransferRequest represents a request to move money between accounts
type TransferRequest struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description,omitempty"`
	Reference     string          `json:"reference,omitempty"`
}

// Validate validates the transfer request
func (r *TransferRequest) Validate() error {
	if r.FromAccountID == "" {
		return fmt.Errorf("from account ID is required")
	}
	if r.ToAccountID == "" {
		return fmt.Errorf("to account ID is required")
	}
	if r.FromAccountID == r.ToAccountID {
		return fmt.Errorf("cannot transfer to the same account")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if r.Amount.Exponent() < -2 {
		return fmt.Errorf("amount must have at most 2 decimal places")
	}
	return nil
}

// DepositRequest represents a single-leg credit from outside the system
type DepositRequest struct {
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
}

// Validate validates the deposit request
func (r *DepositRequest) Validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}
	if IsExternalAccount(r.AccountID) {
		return fmt.Errorf("cannot deposit to the external account")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if r.Amount.Exponent() < -2 {
		return fmt.Errorf("amount must have at most 2 decimal places")
	}
	return nil
}

// WithdrawRequest represents a single-leg debit to outside the system
type WithdrawRequest struct {
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
}

// Validate validates the withdraw request
func (r *WithdrawRequest) Validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}
	if IsExternalAccount(r.AccountID) {
		return fmt.Errorf("cannot withdraw from the external account")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if r.Amount.Exponent() < -2 {
		return fmt.Errorf("amount must have at most 2 decimal places")
	}
	return nil
}

// ReverseRequest represents a request to reverse a completed transaction
type ReverseRequest struct {
	Reason string `json:"reason"`
}

// Validate validates the reverse request
func (r *ReverseRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

// TransactionSearchFilter narrows a transaction search
type TransactionSearchFilter struct {
	OwnerID       string
	AccountID     string
	Type          *TransactionType
	Status        *TransactionStatus
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Page          int
	Size          int
	Sort          string
}

// Validate validates the search filter
func (f *TransactionSearchFilter) Validate() error {
	if f.Type != nil {
		if err := f.Type.Validate(); err != nil {
			return err
		}
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return fmt.Errorf("minAmount cannot exceed maxAmount")
	}
	if f.Page < 0 {
		return fmt.Errorf("page cannot be negative")
	}
	if f.Size < 1 || f.Size > 200 {
		return fmt.Errorf("size must be between 1 and 200")
	}
	return nil
}

// TransactionPage is a paged transaction history envelope
type TransactionPage struct {
	Content       []Transaction `json:"content"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	TotalElements int64         `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	Sort          string        `json:"sort"`
}
