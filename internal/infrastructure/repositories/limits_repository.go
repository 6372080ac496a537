package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
)

// LimitsRepository reads limit profiles from the transaction_limits
// table. Used when no profile file is configured.
type LimitsRepository struct {
	db *sqlx.DB
}

// NewLimitsRepository creates a new limits repository
func NewLimitsRepository(db *sqlx.DB) *LimitsRepository {
	return &LimitsRepository{db: db}
}

// List returns every stored limit profile.
func (r *LimitsRepository) List(ctx context.Context) ([]entities.TransactionLimitProfile, error) {
	query := `
		SELECT account_type, per_transaction_cap, daily_cap, monthly_cap
		FROM transaction_limits
		ORDER BY account_type
	`

	var profiles []entities.TransactionLimitProfile
	err := r.db.SelectContext(ctx, &profiles, query)
	if err != nil {
		return nil, fmt.Errorf("list limit profiles: %w", err)
	}

	return profiles, nil
}
