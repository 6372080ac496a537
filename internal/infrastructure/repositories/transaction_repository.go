package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
)

const transactionColumns = `
	id, from_account_id, to_account_id, amount, currency, type, status, processing_state,
	description, reference, idempotency_key, created_by, created_at, processed_at,
	from_balance_before, from_balance_after, to_balance_before, to_balance_after,
	original_transaction_id, reversal_transaction_id, reversed_at, reversed_by, reversal_reason`

// TransactionRepository handles transaction persistence
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create persists a new transaction. Returns ErrDuplicateKey when the
// (created_by, type, idempotency_key) triple already exists.
func (r *TransactionRepository) Create(ctx context.Context, tx *entities.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		tx.ID,
		tx.FromAccountID,
		tx.ToAccountID,
		tx.Amount,
		tx.Currency,
		tx.Type,
		tx.Status,
		tx.ProcessingState,
		tx.Description,
		tx.Reference,
		tx.IdempotencyKey,
		tx.CreatedBy,
		tx.CreatedAt,
		tx.ProcessedAt,
		tx.FromBalanceBefore,
		tx.FromBalanceAfter,
		tx.ToBalanceBefore,
		tx.ToBalanceAfter,
		tx.OriginalTransactionID,
		tx.ReversalTransactionID,
		tx.ReversedAt,
		tx.ReversedBy,
		tx.ReversalReason,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return apperrors.ErrDuplicateKey
		}
		return fmt.Errorf("create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*entities.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	var tx entities.Transaction
	err := r.db.GetContext(ctx, &tx, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	return &tx, nil
}

// GetByIdempotencyKey looks up a prior submission of the same logical
// request. Returns ErrNotFound when no matching row exists.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, createdBy string, txType entities.TransactionType, key string) (*entities.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE created_by = $1 AND type = $2 AND idempotency_key = $3
	`

	var tx entities.Transaction
	err := r.db.GetContext(ctx, &tx, query, createdBy, txType, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by idempotency key: %w", err)
	}

	return &tx, nil
}

// UpdateState records a status / processing-state transition. Every
// transition is durable before the orchestrator's next external call.
func (r *TransactionRepository) UpdateState(ctx context.Context, id string, status entities.TransactionStatus, state entities.ProcessingState) error {
	query := `
		UPDATE transactions
		SET status = $1, processing_state = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, state, id)
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// SetFromLegBalances records the pre/post balances of the debit leg.
func (r *TransactionRepository) SetFromLegBalances(ctx context.Context, id string, before, after decimal.Decimal) error {
	query := `
		UPDATE transactions
		SET from_balance_before = $1, from_balance_after = $2
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, before, after, id); err != nil {
		return fmt.Errorf("set from-leg balances: %w", err)
	}
	return nil
}

// SetToLegBalances records the pre/post balances of the credit leg.
func (r *TransactionRepository) SetToLegBalances(ctx context.Context, id string, before, after decimal.Decimal) error {
	query := `
		UPDATE transactions
		SET to_balance_before = $1, to_balance_after = $2
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, before, after, id); err != nil {
		return fmt.Errorf("set to-leg balances: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a successful transaction.
func (r *TransactionRepository) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE transactions
		SET status = $1, processing_state = $2, processed_at = $3
		WHERE id = $4
	`

	if _, err := r.db.ExecContext(ctx, query,
		entities.TransactionStatusCompleted, entities.ProcessingStateCompleted, time.Now(), id); err != nil {
		return fmt.Errorf("mark transaction completed: %w", err)
	}
	return nil
}

// MarkReversed atomically completes the reversal transaction and links
// the original to it.
func (r *TransactionRepository) MarkReversed(ctx context.Context, originalID, reversalID, reversedBy, reason string) error {
	dbTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	now := time.Now()

	_, err = dbTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, processing_state = $2, processed_at = $3
		WHERE id = $4
	`, entities.TransactionStatusCompleted, entities.ProcessingStateCompleted, now, reversalID)
	if err != nil {
		return fmt.Errorf("complete reversal: %w", err)
	}

	result, err := dbTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, reversal_transaction_id = $2, reversed_at = $3, reversed_by = $4, reversal_reason = $5
		WHERE id = $6 AND status = $7
	`, entities.TransactionStatusReversed, reversalID, now, reversedBy, reason,
		originalID, entities.TransactionStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark original reversed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.New(apperrors.ErrorTypeBusiness, apperrors.CodeAlreadyReversed,
			"transaction has already been reversed", 409)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit reversal link: %w", err)
	}

	return nil
}

// ListByAccount returns a page of transactions touching the account,
// on either leg.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string, page, size int, sort string) (*entities.TransactionPage, error) {
	orderBy := sortClause(sort)

	var total int64
	err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY ` + orderBy + `
		LIMIT $2 OFFSET $3
	`

	txs := []entities.Transaction{}
	err = r.db.SelectContext(ctx, &txs, query, accountID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return &entities.TransactionPage{
		Content:       txs,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages(total, size),
		Sort:          sort,
	}, nil
}

// Search returns a filtered page of transactions.
func (r *TransactionRepository) Search(ctx context.Context, filter *entities.TransactionSearchFilter) (*entities.TransactionPage, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	idx := 1

	appendArg := func(clause string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf(clause, idx))
		args = append(args, value)
		idx++
	}

	if filter.OwnerID != "" {
		appendArg("created_by = $%d", filter.OwnerID)
	}
	if filter.AccountID != "" {
		conditions = append(conditions, fmt.Sprintf("(from_account_id = $%d OR to_account_id = $%d)", idx, idx))
		args = append(args, filter.AccountID)
		idx++
	}
	if filter.Type != nil {
		appendArg("type = $%d", *filter.Type)
	}
	if filter.Status != nil {
		appendArg("status = $%d", *filter.Status)
	}
	if filter.MinAmount != nil {
		appendArg("amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		appendArg("amount <= $%d", *filter.MaxAmount)
	}
	if filter.CreatedAfter != nil {
		appendArg("created_at >= $%d", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		appendArg("created_at <= $%d", *filter.CreatedBefore)
	}

	where := strings.Join(conditions, " AND ")

	var total int64
	err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM transactions WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM transactions WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		transactionColumns, where, sortClause(filter.Sort), idx, idx+1,
	)
	args = append(args, filter.Size, filter.Page*filter.Size)

	txs := []entities.Transaction{}
	err = r.db.SelectContext(ctx, &txs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search transactions: %w", err)
	}

	return &entities.TransactionPage{
		Content:       txs,
		Page:          filter.Page,
		Size:          filter.Size,
		TotalElements: total,
		TotalPages:    totalPages(total, filter.Size),
		Sort:          filter.Sort,
	}, nil
}

// SumCompletedAmounts sums completed transactions of the given type
// that debited the account since the cutoff. Used by the limit
// evaluator's rolling-window checks.
func (r *TransactionRepository) SumCompletedAmounts(ctx context.Context, accountID string, txType entities.TransactionType, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE from_account_id = $1 AND type = $2 AND status = $3 AND created_at >= $4
	`

	var sum decimal.Decimal
	err := r.db.GetContext(ctx, &sum, query, accountID, txType, entities.TransactionStatusCompleted, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum completed amounts: %w", err)
	}

	return sum, nil
}

// MarkStuckAsFailed fails PROCESSING transactions that have not moved
// past the debit leg within the cutoff. Returns the affected ids.
func (r *TransactionRepository) MarkStuckAsFailed(ctx context.Context, olderThan time.Time) ([]string, error) {
	query := `
		UPDATE transactions
		SET status = $1, processed_at = $2
		WHERE status = $3
		  AND processing_state IN ($4, $5)
		  AND created_at < $6
		RETURNING id
	`

	rows, err := r.db.QueryxContext(ctx, query,
		entities.TransactionStatusFailed,
		time.Now(),
		entities.TransactionStatusProcessing,
		entities.ProcessingStateInitiated,
		entities.ProcessingStateDebitApplied,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("mark stuck transactions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func sortClause(sort string) string {
	switch sort {
	case "created_at,asc", "createdAt,asc":
		return "created_at ASC"
	case "amount,desc":
		return "amount DESC"
	case "amount,asc":
		return "amount ASC"
	default:
		return "created_at DESC"
	}
}

func totalPages(total int64, size int) int {
	if size <= 0 {
		return 0
	}
	pages := total / int64(size)
	if total%int64(size) != 0 {
		pages++
	}
	return int(pages)
}
