package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
)

// BalanceOperationRepository handles balance operation persistence.
// Rows are written exactly once and never updated.
type BalanceOperationRepository struct {
	db *sqlx.DB
}

// NewBalanceOperationRepository creates a new balance operation repository
func NewBalanceOperationRepository(db *sqlx.DB) *BalanceOperationRepository {
	return &BalanceOperationRepository{db: db}
}

// Get looks up a stored operation by its composite key within tx, so a
// concurrent inserter's committed row is visible to the caller.
func (r *BalanceOperationRepository) Get(ctx context.Context, tx *sqlx.Tx, operationID string, accountID int64) (*entities.BalanceOperation, error) {
	query := `
		SELECT operation_id, account_id, transaction_id, delta, reason, allow_negative, applied, resulting_balance, status, created_at
		FROM account_balance_operations
		WHERE operation_id = $1 AND account_id = $2
	`

	var op entities.BalanceOperation
	err := tx.GetContext(ctx, &op, query, operationID, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get balance operation: %w", err)
	}

	return &op, nil
}

// Insert persists an operation record. Returns ErrDuplicateKey when the
// (operation_id, account_id) pair already exists.
func (r *BalanceOperationRepository) Insert(ctx context.Context, tx *sqlx.Tx, op *entities.BalanceOperation) error {
	query := `
		INSERT INTO account_balance_operations (operation_id, account_id, transaction_id, delta, reason, allow_negative, applied, resulting_balance, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	_, err := tx.ExecContext(
		ctx,
		query,
		op.OperationID,
		op.AccountID,
		op.TransactionID,
		op.Delta,
		op.Reason,
		op.AllowNegative,
		op.Applied,
		op.ResultingBalance,
		op.Status,
		op.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return apperrors.ErrDuplicateKey
		}
		return fmt.Errorf("insert balance operation: %w", err)
	}

	return nil
}

// ListByAccount returns the full operation history for an account,
// oldest first. Used for audit.
func (r *BalanceOperationRepository) ListByAccount(ctx context.Context, accountID int64) ([]*entities.BalanceOperation, error) {
	query := `
		SELECT operation_id, account_id, transaction_id, delta, reason, allow_negative, applied, resulting_balance, status, created_at
		FROM account_balance_operations
		WHERE account_id = $1
		ORDER BY created_at
	`

	var ops []*entities.BalanceOperation
	err := r.db.SelectContext(ctx, &ops, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list balance operations: %w", err)
	}

	return ops, nil
}
