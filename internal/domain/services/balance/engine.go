package balance

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/database"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
	"github.com/ledger-stack/ledger_service/pkg/metrics"
)

// AccountStore is the account persistence the engine needs.
type AccountStore interface {
	GetByIDTx(ctx context.Context, tx *sqlx.Tx, accountID int64) (*entities.Account, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, accountID int64) (*entities.Account, error)
	UpdateBalance(ctx context.Context, tx *sqlx.Tx, accountID int64, newBalance decimal.Decimal) (int64, error)
}

// OperationStore is the balance operation persistence the engine needs.
type OperationStore interface {
	Get(ctx context.Context, tx *sqlx.Tx, operationID string, accountID int64) (*entities.BalanceOperation, error)
	Insert(ctx context.Context, tx *sqlx.Tx, op *entities.BalanceOperation) error
}

// Engine is the single writer of account balances. Every mutation runs
// under a pessimistic row lock inside one database transaction, and is
// idempotent by (operation_id, account_id).
type Engine struct {
	accounts   AccountStore
	operations OperationStore
	logger     *logger.Logger

	runInTx func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// NewEngine creates a balance engine bound to db.
func NewEngine(db *sqlx.DB, accounts AccountStore, operations OperationStore, log *logger.Logger) *Engine {
	return &Engine{
		accounts:   accounts,
		operations: operations,
		logger:     log,
		runInTx: func(ctx context.Context, fn func(*sqlx.Tx) error) error {
			return database.WithTransaction(ctx, db, fn)
		},
	}
}

// Apply applies a signed delta to the account. A second call with the
// same operation id returns the stored outcome with status REPLAYED and
// does not touch the balance.
func (e *Engine) Apply(ctx context.Context, accountID int64, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidDelta, err.Error())
	}

	// The loser of a concurrent insert race hits the unique constraint;
	// one retry makes it observe the winner's row on the dedup lookup.
	var result *entities.BalanceOperationResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		result, err = e.apply(ctx, accountID, req)
		if errors.Is(err, apperrors.ErrDuplicateKey) {
			e.logger.Debug("Balance operation lost insert race, replaying",
				"operation_id", req.OperationID, "account_id", accountID)
			continue
		}
		break
	}
	if errors.Is(err, apperrors.ErrDuplicateKey) {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, apperrors.CodeStorageError,
			"balance operation dedup retry exhausted", http.StatusInternalServerError)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordBalanceOperation(string(result.Status))
	return result, nil
}

func (e *Engine) apply(ctx context.Context, accountID int64, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	var result *entities.BalanceOperationResult

	err := e.runInTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := e.operations.Get(ctx, tx, req.OperationID, accountID)
		if err == nil {
			account, err := e.accounts.GetByIDTx(ctx, tx, accountID)
			if err != nil {
				return err
			}
			result = &entities.BalanceOperationResult{
				AccountID:   accountID,
				OperationID: req.OperationID,
				Applied:     existing.Applied,
				NewBalance:  existing.ResultingBalance,
				Version:     account.Version,
				Status:      entities.BalanceOperationReplayed,
			}
			return nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		account, err := e.accounts.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		newBalance := account.Balance.Add(req.Delta)

		op := &entities.BalanceOperation{
			OperationID:   req.OperationID,
			AccountID:     accountID,
			Delta:         req.Delta,
			Reason:        req.Reason,
			AllowNegative: req.AllowNegative,
		}
		if req.TransactionID != "" {
			op.TransactionID = &req.TransactionID
		}

		if newBalance.IsNegative() && !req.AllowNegative {
			op.Applied = false
			op.ResultingBalance = account.Balance
			op.Status = entities.BalanceOperationRejected
			if err := e.operations.Insert(ctx, tx, op); err != nil {
				return err
			}
			result = &entities.BalanceOperationResult{
				AccountID:   accountID,
				OperationID: req.OperationID,
				Applied:     false,
				NewBalance:  account.Balance,
				Version:     account.Version,
				Status:      entities.BalanceOperationRejected,
			}
			return nil
		}

		version, err := e.accounts.UpdateBalance(ctx, tx, accountID, newBalance)
		if err != nil {
			return err
		}

		op.Applied = true
		op.ResultingBalance = newBalance
		op.Status = entities.BalanceOperationApplied
		if err := e.operations.Insert(ctx, tx, op); err != nil {
			return err
		}

		result = &entities.BalanceOperationResult{
			AccountID:   accountID,
			OperationID: req.OperationID,
			Applied:     true,
			NewBalance:  newBalance,
			Version:     version,
			Status:      entities.BalanceOperationApplied,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Balance operation processed",
		"operation_id", req.OperationID,
		"account_id", accountID,
		"applied", result.Applied,
		"status", result.Status,
	)

	return result, nil
}
