package entities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FallbackPerTransactionCap applies when no limit profile is loaded.
var FallbackPerTransactionCap = decimal.NewFromInt(10000)

// TransactionLimitProfile holds the caps for a single account type.
// Profiles are immutable configuration loaded at process start.
type TransactionLimitProfile struct {
	AccountType    AccountType                         `json:"accountType" db:"account_type"`
	PerTransaction decimal.Decimal                     `json:"perTransaction" db:"per_transaction_cap"`
	DailyCap       decimal.Decimal                     `json:"dailyCap" db:"daily_cap"`
	MonthlyCap     decimal.Decimal                     `json:"monthlyCap" db:"monthly_cap"`
	PerType        map[TransactionType]decimal.Decimal `json:"perType,omitempty"`
}

// Validate validates the limit profile
func (p *TransactionLimitProfile) Validate() error {
	if err := p.AccountType.Validate(); err != nil {
		return err
	}
	if p.PerTransaction.IsNegative() || p.DailyCap.IsNegative() || p.MonthlyCap.IsNegative() {
		return fmt.Errorf("limit caps cannot be negative")
	}
	return nil
}

// LimitDecision is the advisory answer of a limit check. The balance
// engine remains authoritative on overdraft.
type LimitDecision struct {
	Allowed   bool            `json:"allowed"`
	Reason    string          `json:"reason,omitempty"`
	Limit     decimal.Decimal `json:"limit"`
	Used      decimal.Decimal `json:"used"`
	LimitKind string          `json:"limitKind,omitempty"` // per_transaction, daily, monthly, per_type
}

// AllowDecision returns an allowing decision.
func AllowDecision() LimitDecision {
	return LimitDecision{Allowed: true}
}

// DenyDecision returns a denying decision with the offending cap and usage.
func DenyDecision(kind, reason string, limit, used decimal.Decimal) LimitDecision {
	return LimitDecision{
		Allowed:   false,
		Reason:    reason,
		Limit:     limit,
		Used:      used,
		LimitKind: kind,
	}
}
