package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
)

// AccountRepository handles account persistence
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *entities.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("validate account: %w", err)
	}

	query := `
		INSERT INTO accounts (owner_id, account_type, balance, credit_limit, interest_rate, version, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRowxContext(
		ctx,
		query,
		account.OwnerID,
		account.AccountType,
		account.Balance,
		account.CreditLimit,
		account.InterestRate,
		account.Version,
		now,
		now,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by ID. Logically deleted accounts are
// not returned.
func (r *AccountRepository) GetByID(ctx context.Context, accountID int64) (*entities.Account, error) {
	query := `
		SELECT id, owner_id, account_type, balance, credit_limit, interest_rate, version, deleted, created_at, updated_at
		FROM accounts
		WHERE id = $1 AND deleted = false
	`

	var account entities.Account
	err := r.db.GetContext(ctx, &account, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &account, nil
}

// GetByIDTx retrieves an account within tx without locking it.
func (r *AccountRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, accountID int64) (*entities.Account, error) {
	query := `
		SELECT id, owner_id, account_type, balance, credit_limit, interest_rate, version, deleted, created_at, updated_at
		FROM accounts
		WHERE id = $1 AND deleted = false
	`

	var account entities.Account
	err := tx.GetContext(ctx, &account, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &account, nil
}

// GetByIDForUpdate locks the account row for the duration of tx. Blocks
// until the lock is acquired.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, accountID int64) (*entities.Account, error) {
	query := `
		SELECT id, owner_id, account_type, balance, credit_limit, interest_rate, version, deleted, created_at, updated_at
		FROM accounts
		WHERE id = $1 AND deleted = false
		FOR UPDATE
	`

	var account entities.Account
	err := tx.GetContext(ctx, &account, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}

	return &account, nil
}

// UpdateBalance writes the new balance and bumps the version. Must run
// inside the same transaction that holds the row lock.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *sqlx.Tx, accountID int64, newBalance decimal.Decimal) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3
		RETURNING version
	`

	var version int64
	err := tx.QueryRowxContext(ctx, query, newBalance, time.Now(), accountID).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperrors.ErrAccountNotFound
		}
		return 0, fmt.Errorf("update balance: %w", err)
	}

	return version, nil
}

// SetBalance overwrites the balance directly. Privileged path; still
// bumps the version so readers observe the mutation.
func (r *AccountRepository) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) (*entities.Account, error) {
	query := `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND deleted = false
		RETURNING id, owner_id, account_type, balance, credit_limit, interest_rate, version, deleted, created_at, updated_at
	`

	var account entities.Account
	err := r.db.GetContext(ctx, &account, query, balance, time.Now(), accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("set balance: %w", err)
	}

	return &account, nil
}

// ListByOwner retrieves all accounts for an owner
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*entities.Account, error) {
	query := `
		SELECT id, owner_id, account_type, balance, credit_limit, interest_rate, version, deleted, created_at, updated_at
		FROM accounts
		WHERE owner_id = $1 AND deleted = false
		ORDER BY id
	`

	var accounts []*entities.Account
	err := r.db.SelectContext(ctx, &accounts, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	return accounts, nil
}

// LogicalDelete marks an account deleted without removing the row, so
// transaction history keeps its references.
func (r *AccountRepository) LogicalDelete(ctx context.Context, accountID int64) error {
	query := `
		UPDATE accounts
		SET deleted = true, updated_at = $1
		WHERE id = $2 AND deleted = false
	`

	result, err := r.db.ExecContext(ctx, query, time.Now(), accountID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperrors.ErrAccountNotFound
	}

	return nil
}
