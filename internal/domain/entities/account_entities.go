package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is a tag controlling limit profiles, not behavior.
type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeCredit   AccountType = "CREDIT"
	AccountTypePremium  AccountType = "PREMIUM"
)

// Validate checks if the account type is valid
func (a AccountType) Validate() error {
	switch a {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeCredit, AccountTypePremium:
		return nil
	default:
		return fmt.Errorf("invalid account type: %s", a)
	}
}

// Account represents a ledger account. Balance is mutated only through
// balance operations; Version increments on every mutation.
type Account struct {
	ID           int64            `json:"id" db:"id"`
	OwnerID      string           `json:"ownerId" db:"owner_id"`
	AccountType  AccountType      `json:"accountType" db:"account_type"`
	Balance      decimal.Decimal  `json:"balance" db:"balance"`
	CreditLimit  *decimal.Decimal `json:"creditLimit,omitempty" db:"credit_limit"`
	InterestRate *decimal.Decimal `json:"interestRate,omitempty" db:"interest_rate"`
	Version      int64            `json:"version" db:"version"`
	Deleted      bool             `json:"-" db:"deleted"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time        `json:"updatedAt" db:"updated_at"`
}

// Validate validates the account
func (a *Account) Validate() error {
	if a.OwnerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	return a.AccountType.Validate()
}

// BalanceOperationStatus is the outcome of a balance operation.
type BalanceOperationStatus string

const (
	BalanceOperationApplied  BalanceOperationStatus = "APPLIED"
	BalanceOperationRejected BalanceOperationStatus = "REJECTED"
	// BalanceOperationReplayed marks a response served from a stored
	// outcome; it is never persisted.
	BalanceOperationReplayed BalanceOperationStatus = "REPLAYED"
)

// BalanceOperation is the atomic, idempotent unit of balance change,
// keyed by (operation_id, account_id). Immutable once written.
type BalanceOperation struct {
	OperationID      string                 `json:"operationId" db:"operation_id"`
	AccountID        int64                  `json:"accountId" db:"account_id"`
	TransactionID    *string                `json:"transactionId,omitempty" db:"transaction_id"`
	Delta            decimal.Decimal        `json:"delta" db:"delta"`
	Reason           string                 `json:"reason" db:"reason"`
	AllowNegative    bool                   `json:"allowNegative" db:"allow_negative"`
	Applied          bool                   `json:"applied" db:"applied"`
	ResultingBalance decimal.Decimal        `json:"resultingBalance" db:"resulting_balance"`
	Status           BalanceOperationStatus `json:"status" db:"status"`
	CreatedAt        time.Time              `json:"createdAt" db:"created_at"`
}

// BalanceOperationRequest is the input to the balance engine.
type BalanceOperationRequest struct {
	OperationID   string          `json:"operationId"`
	Delta         decimal.Decimal `json:"delta"`
	TransactionID string          `json:"transactionId,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	AllowNegative bool            `json:"allowNegative"`
}

// Validate validates the balance operation request
func (r *BalanceOperationRequest) Validate() error {
	if r.OperationID == "" {
		return fmt.Errorf("operation ID is required")
	}
	// Zero deltas are allowed; fractional cents are not.
	if r.Delta.Exponent() < -2 {
		return fmt.Errorf("delta must have at most 2 decimal places")
	}
	return nil
}

// BalanceOperationResult is the engine's answer, replay-stable for a
// given (operation_id, account_id).
type BalanceOperationResult struct {
	AccountID   int64                  `json:"accountId"`
	OperationID string                 `json:"operationId"`
	Applied     bool                   `json:"applied"`
	NewBalance  decimal.Decimal        `json:"newBalance"`
	Version     int64                  `json:"version"`
	Status      BalanceOperationStatus `json:"status"`
}

// CreateAccountRequest represents a request to open an account
type CreateAccountRequest struct {
	OwnerID        string           `json:"ownerId"`
	AccountType    AccountType      `json:"accountType"`
	InitialBalance *decimal.Decimal `json:"initialBalance,omitempty"`
	CreditLimit    *decimal.Decimal `json:"creditLimit,omitempty"`
	InterestRate   *decimal.Decimal `json:"interestRate,omitempty"`
}

// Validate validates the create account request
func (r *CreateAccountRequest) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	if err := r.AccountType.Validate(); err != nil {
		return err
	}
	if r.InitialBalance != nil && r.InitialBalance.IsNegative() {
		return fmt.Errorf("initial balance cannot be negative")
	}
	return nil
}

// SetBalanceRequest is a privileged direct balance write.
type SetBalanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}
