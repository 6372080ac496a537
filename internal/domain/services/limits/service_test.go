package limits

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

type fakeSums struct {
	daily   decimal.Decimal
	monthly decimal.Decimal
}

func (f *fakeSums) SumCompletedAmounts(_ context.Context, _ string, _ entities.TransactionType, since time.Time) (decimal.Decimal, error) {
	// A month-start cutoff precedes a day-start cutoff.
	if since.Day() == 1 && time.Now().Day() != 1 {
		return f.monthly, nil
	}
	return f.daily, nil
}

func newTestService(sums *fakeSums, profiles ...entities.TransactionLimitProfile) *Service {
	svc := NewService(sums, logger.New("error", "test"))
	svc.SetProfiles(profiles)
	// Pin the clock mid-month so daily and monthly windows differ.
	svc.now = func() time.Time {
		return time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func checkingProfile() entities.TransactionLimitProfile {
	return entities.TransactionLimitProfile{
		AccountType:    entities.AccountTypeChecking,
		PerTransaction: decimal.NewFromInt(5000),
		DailyCap:       decimal.NewFromInt(20000),
		MonthlyCap:     decimal.NewFromInt(100000),
		PerType: map[entities.TransactionType]decimal.Decimal{
			entities.TransactionTypeWithdrawal: decimal.NewFromInt(2000),
		},
	}
}

func TestCheck_WithinLimitsAllowed(t *testing.T) {
	svc := newTestService(&fakeSums{}, checkingProfile())

	decision, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeTransfer, decimal.NewFromInt(1000))

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheck_PerTransactionCapDenied(t *testing.T) {
	svc := newTestService(&fakeSums{}, checkingProfile())

	decision, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeTransfer, decimal.NewFromInt(5001))

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "per_transaction", decision.LimitKind)
}

func TestCheck_PerTypeOverrideWins(t *testing.T) {
	svc := newTestService(&fakeSums{}, checkingProfile())

	// 3000 is under the 5000 per-transaction cap but over the 2000
	// withdrawal override.
	decision, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeWithdrawal, decimal.NewFromInt(3000))

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "per_type", decision.LimitKind)
}

func TestCheck_DailyCapDenied(t *testing.T) {
	sums := &fakeSums{daily: decimal.NewFromInt(19500), monthly: decimal.NewFromInt(19500)}
	svc := newTestService(sums, checkingProfile())

	decision, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeTransfer, decimal.NewFromInt(600))

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "daily", decision.LimitKind)
}

func TestCheck_MonthlyCapDenied(t *testing.T) {
	sums := &fakeSums{daily: decimal.NewFromInt(100), monthly: decimal.NewFromInt(99900)}
	svc := newTestService(sums, checkingProfile())

	decision, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeTransfer, decimal.NewFromInt(200))

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "monthly", decision.LimitKind)
}

func TestCheck_FallbackWhenNoProfileLoaded(t *testing.T) {
	svc := newTestService(&fakeSums{})

	allowed, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeTransfer, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)

	denied, err := svc.Check(context.Background(), "1", entities.AccountTypeChecking,
		entities.TransactionTypeTransfer, decimal.NewFromInt(10001))
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "per_transaction", denied.LimitKind)
}

func TestCheck_ProfileOverridesFallbackCap(t *testing.T) {
	profile := entities.TransactionLimitProfile{
		AccountType:    entities.AccountTypePremium,
		PerTransaction: decimal.NewFromInt(50000),
		DailyCap:       decimal.NewFromInt(200000),
		MonthlyCap:     decimal.NewFromInt(500000),
	}
	svc := newTestService(&fakeSums{}, profile)

	// Over the 10,000 fallback but under the premium profile cap.
	decision, err := svc.Check(context.Background(), "1", entities.AccountTypePremium,
		entities.TransactionTypeTransfer, decimal.NewFromInt(25000))

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
