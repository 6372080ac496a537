package transaction

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// ===== fakes =====

type fakeStore struct {
	txs map[string]*entities.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{txs: map[string]*entities.Transaction{}}
}

func (f *fakeStore) Create(_ context.Context, tx *entities.Transaction) error {
	if tx.IdempotencyKey != nil {
		for _, existing := range f.txs {
			if existing.CreatedBy == tx.CreatedBy && existing.Type == tx.Type &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
				return apperrors.ErrDuplicateKey
			}
		}
	}
	copied := *tx
	f.txs[tx.ID] = &copied
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*entities.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f *fakeStore) GetByIdempotencyKey(_ context.Context, createdBy string, txType entities.TransactionType, key string) (*entities.Transaction, error) {
	for _, tx := range f.txs {
		if tx.CreatedBy == createdBy && tx.Type == txType &&
			tx.IdempotencyKey != nil && *tx.IdempotencyKey == key {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeStore) UpdateState(_ context.Context, id string, status entities.TransactionStatus, state entities.ProcessingState) error {
	tx, ok := f.txs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	tx.Status = status
	tx.ProcessingState = state
	return nil
}

func (f *fakeStore) SetFromLegBalances(_ context.Context, id string, before, after decimal.Decimal) error {
	tx := f.txs[id]
	tx.FromBalanceBefore = &before
	tx.FromBalanceAfter = &after
	return nil
}

func (f *fakeStore) SetToLegBalances(_ context.Context, id string, before, after decimal.Decimal) error {
	tx := f.txs[id]
	tx.ToBalanceBefore = &before
	tx.ToBalanceAfter = &after
	return nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id string) error {
	tx, ok := f.txs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	now := time.Now()
	tx.Status = entities.TransactionStatusCompleted
	tx.ProcessingState = entities.ProcessingStateCompleted
	tx.ProcessedAt = &now
	return nil
}

func (f *fakeStore) MarkReversed(_ context.Context, originalID, reversalID, reversedBy, reason string) error {
	original, ok := f.txs[originalID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if original.Status == entities.TransactionStatusReversed {
		return apperrors.New(apperrors.ErrorTypeBusiness, apperrors.CodeAlreadyReversed,
			"transaction has already been reversed", 409)
	}
	now := time.Now()
	reversal := f.txs[reversalID]
	reversal.Status = entities.TransactionStatusCompleted
	reversal.ProcessingState = entities.ProcessingStateCompleted
	reversal.ProcessedAt = &now
	original.Status = entities.TransactionStatusReversed
	original.ReversalTransactionID = &reversalID
	original.ReversedAt = &now
	original.ReversedBy = &reversedBy
	original.ReversalReason = &reason
	return nil
}

func (f *fakeStore) ListByAccount(_ context.Context, accountID string, page, size int, sort string) (*entities.TransactionPage, error) {
	var content []entities.Transaction
	for _, tx := range f.txs {
		if tx.FromAccountID == accountID || tx.ToAccountID == accountID {
			content = append(content, *tx)
		}
	}
	return &entities.TransactionPage{
		Content: content, Page: page, Size: size,
		TotalElements: int64(len(content)), TotalPages: 1, Sort: sort,
	}, nil
}

func (f *fakeStore) Search(_ context.Context, filter *entities.TransactionSearchFilter) (*entities.TransactionPage, error) {
	var content []entities.Transaction
	for _, tx := range f.txs {
		if filter.OwnerID != "" && tx.CreatedBy != filter.OwnerID {
			continue
		}
		if filter.Type != nil && tx.Type != *filter.Type {
			continue
		}
		content = append(content, *tx)
	}
	return &entities.TransactionPage{
		Content: content, Page: filter.Page, Size: filter.Size,
		TotalElements: int64(len(content)), TotalPages: 1, Sort: filter.Sort,
	}, nil
}

// fakeAccounts simulates the account service including the balance
// engine's idempotency and overdraft behavior.
type fakeAccounts struct {
	accounts    map[string]*entities.Account
	ops         map[string]*entities.BalanceOperationResult
	unavailable map[string]bool
	opCalls     int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		accounts:    map[string]*entities.Account{},
		ops:         map[string]*entities.BalanceOperationResult{},
		unavailable: map[string]bool{},
	}
}

func (f *fakeAccounts) addAccount(id string, owner, balance string) {
	var numericID int64
	fmt.Sscanf(id, "%d", &numericID)
	f.accounts[id] = &entities.Account{
		ID:          numericID,
		OwnerID:     owner,
		AccountType: entities.AccountTypeChecking,
		Balance:     decimal.RequireFromString(balance),
		Version:     1,
	}
}

func (f *fakeAccounts) GetAccount(_ context.Context, accountID string) (*entities.Account, error) {
	if f.unavailable[accountID] {
		return nil, apperrors.Unavailable("account service unavailable")
	}
	account, ok := f.accounts[accountID]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (f *fakeAccounts) ApplyBalanceOperation(_ context.Context, accountID string, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	f.opCalls++
	if f.unavailable[accountID] {
		return nil, apperrors.Unavailable("account service unavailable")
	}
	account, ok := f.accounts[accountID]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}

	key := req.OperationID + "#" + accountID
	if prior, exists := f.ops[key]; exists {
		replay := *prior
		replay.Status = entities.BalanceOperationReplayed
		return &replay, nil
	}

	newBalance := account.Balance.Add(req.Delta)
	if newBalance.IsNegative() && !req.AllowNegative {
		result := &entities.BalanceOperationResult{
			AccountID: account.ID, OperationID: req.OperationID,
			Applied: false, NewBalance: account.Balance,
			Version: account.Version, Status: entities.BalanceOperationRejected,
		}
		f.ops[key] = result
		return result, nil
	}

	account.Balance = newBalance
	account.Version++
	result := &entities.BalanceOperationResult{
		AccountID: account.ID, OperationID: req.OperationID,
		Applied: true, NewBalance: newBalance,
		Version: account.Version, Status: entities.BalanceOperationApplied,
	}
	f.ops[key] = result
	return result, nil
}

type fakeLimits struct {
	decision entities.LimitDecision
}

func (f *fakeLimits) Check(context.Context, string, entities.AccountType, entities.TransactionType, decimal.Decimal) (entities.LimitDecision, error) {
	return f.decision, nil
}

type fakeCache struct {
	invalidations int
	pages         map[string]*entities.TransactionPage
}

func newFakeCache() *fakeCache {
	return &fakeCache{pages: map[string]*entities.TransactionPage{}}
}

func (f *fakeCache) GetPage(_ context.Context, accountID string, page, size int, sort string) (*entities.TransactionPage, bool) {
	p, ok := f.pages[fmt.Sprintf("%s:%d:%d:%s", accountID, page, size, sort)]
	return p, ok
}

func (f *fakeCache) SetPage(_ context.Context, accountID string, result *entities.TransactionPage) {
	f.pages[fmt.Sprintf("%s:%d:%d:%s", accountID, result.Page, result.Size, result.Sort)] = result
}

func (f *fakeCache) Invalidate(context.Context) {
	f.invalidations++
	f.pages = map[string]*entities.TransactionPage{}
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	accounts *fakeAccounts
	cache    *fakeCache
}

func newFixture() *fixture {
	store := newFakeStore()
	accounts := newFakeAccounts()
	cache := newFakeCache()
	svc := NewService(store, accounts, &fakeLimits{decision: entities.AllowDecision()}, cache, logger.New("error", "test"))
	return &fixture{svc: svc, store: store, accounts: accounts, cache: cache}
}

var alice = entities.Principal{Name: "alice", Roles: []string{entities.RoleUser}}
var admin = entities.Principal{Name: "ops", Roles: []string{entities.RoleAdmin}}

func transferReq(from, to, amount string) *entities.TransferRequest {
	return &entities.TransferRequest{
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
	}
}

// ===== transfer =====

func TestTransfer_HappyPath(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")

	tx, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.NoError(t, err)

	assert.Equal(t, entities.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, entities.ProcessingStateCompleted, tx.ProcessingState)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("300.00")))
	assert.True(t, f.accounts.accounts["2"].Balance.Equal(decimal.RequireFromString("300.00")))

	require.NotNil(t, tx.FromBalanceBefore)
	assert.True(t, tx.FromBalanceBefore.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, tx.FromBalanceAfter.Equal(decimal.RequireFromString("300.00")))
	assert.True(t, tx.ToBalanceBefore.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, tx.ToBalanceAfter.Equal(decimal.RequireFromString("300.00")))

	assert.Greater(t, f.cache.invalidations, 0)
}

func TestTransfer_IdempotencyKeyReplaysStoredTransaction(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")

	first, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "key-1")
	require.NoError(t, err)

	callsAfterFirst := f.accounts.opCalls

	second, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, entities.TransactionStatusCompleted, second.Status)
	// No further balance operations ran.
	assert.Equal(t, callsAfterFirst, f.accounts.opCalls)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("300.00")))
}

func TestTransfer_CreditFailureCompensates(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	// Account 2 does not exist; the credit leg will fail.

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeBusiness, appErr.Type)
	assert.Equal(t, apperrors.CodeAccountNotFound, appErr.Code)

	// Funds restored, terminal compensated state recorded.
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("500.00")))

	var stored *entities.Transaction
	for _, tx := range f.store.txs {
		stored = tx
	}
	require.NotNil(t, stored)
	assert.Equal(t, entities.TransactionStatusFailed, stored.Status)
	assert.Equal(t, entities.ProcessingStateCompensated, stored.ProcessingState)
}

func TestTransfer_CompensationFailureEscalatesToManualAction(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")

	// The source account becomes unreachable right after the debit, so
	// both the credit and the compensation fail.
	f.svc.accounts = &flakyAccounts{inner: f.accounts, failAfterCalls: 1}

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeInternal, appErr.Type)

	var stored *entities.Transaction
	for _, tx := range f.store.txs {
		stored = tx
	}
	require.NotNil(t, stored)
	assert.Equal(t, entities.TransactionStatusFailedManualAction, stored.Status)
	assert.Equal(t, entities.ProcessingStateManualActionRequired, stored.ProcessingState)
}

// flakyAccounts delegates until failAfterCalls balance operations have
// run, then reports unavailability.
type flakyAccounts struct {
	inner          *fakeAccounts
	failAfterCalls int
	calls          int
}

func (f *flakyAccounts) GetAccount(ctx context.Context, accountID string) (*entities.Account, error) {
	return f.inner.GetAccount(ctx, accountID)
}

func (f *flakyAccounts) ApplyBalanceOperation(ctx context.Context, accountID string, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	f.calls++
	if f.calls > f.failAfterCalls {
		return nil, apperrors.Unavailable("account service unavailable")
	}
	return f.inner.ApplyBalanceOperation(ctx, accountID, req)
}

// rejectingAccounts delegates but reports the named operation as not
// applied, simulating an engine-side rejection of that leg.
type rejectingAccounts struct {
	inner       *fakeAccounts
	rejectOpSub string
}

func (r *rejectingAccounts) GetAccount(ctx context.Context, accountID string) (*entities.Account, error) {
	return r.inner.GetAccount(ctx, accountID)
}

func (r *rejectingAccounts) ApplyBalanceOperation(ctx context.Context, accountID string, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	if strings.Contains(req.OperationID, r.rejectOpSub) {
		account, err := r.inner.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return &entities.BalanceOperationResult{
			AccountID: account.ID, OperationID: req.OperationID,
			Applied: false, NewBalance: account.Balance,
			Version: account.Version, Status: entities.BalanceOperationRejected,
		}, nil
	}
	return r.inner.ApplyBalanceOperation(ctx, accountID, req)
}

func TestTransfer_RejectedCreditCompensatesDebit(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	f.svc.accounts = &rejectingAccounts{inner: f.accounts, rejectOpSub: ":credit"}

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidState, appErr.Code)

	// The debit was rolled back; the transaction never completed.
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, f.accounts.accounts["2"].Balance.Equal(decimal.RequireFromString("100.00")))

	var stored *entities.Transaction
	for _, tx := range f.store.txs {
		stored = tx
	}
	require.NotNil(t, stored)
	assert.Equal(t, entities.TransactionStatusFailed, stored.Status)
	assert.Equal(t, entities.ProcessingStateCompensated, stored.ProcessingState)
}

func TestTransfer_InsufficientFundsPrecheckCreatesNoTransaction(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "100.00")
	f.accounts.addAccount("2", "bob", "100.00")

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInsufficientFunds, appErr.Code)
	assert.Empty(t, f.store.txs)
	assert.Equal(t, 0, f.accounts.opCalls)
}

func TestTransfer_LimitDeniedCreatesNoTransaction(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "50000.00")
	f.accounts.addAccount("2", "bob", "100.00")
	f.svc.limits = &fakeLimits{decision: entities.DenyDecision("daily", "daily limit exceeded",
		decimal.NewFromInt(20000), decimal.NewFromInt(19900))}

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeLimitExceeded, appErr.Code)
	assert.Empty(t, f.store.txs)
}

func TestTransfer_NonOwnerForbidden(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "bob", "500.00")
	f.accounts.addAccount("2", "carol", "100.00")

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "100.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeForbidden, appErr.Type)
	assert.Empty(t, f.store.txs)
}

func TestTransfer_AdminBypassesOwnership(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "bob", "500.00")
	f.accounts.addAccount("2", "carol", "100.00")

	tx, err := f.svc.Transfer(context.Background(), admin, transferReq("1", "2", "100.00"), "")
	require.NoError(t, err)
	assert.Equal(t, entities.TransactionStatusCompleted, tx.Status)
}

func TestTransfer_UpstreamUnavailableOnDebitFailsTransaction(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	f.svc.accounts = &flakyAccounts{inner: f.accounts, failAfterCalls: 0}

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeUnavailable, appErr.Type)

	var stored *entities.Transaction
	for _, tx := range f.store.txs {
		stored = tx
	}
	require.NotNil(t, stored)
	assert.Equal(t, entities.TransactionStatusFailed, stored.Status)
}

func TestTransfer_ExternalSentinelRejected(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")

	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "external", "100.00"), "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeValidation, appErr.Type)
}

// ===== deposit / withdraw =====

func TestDeposit_HappyPath(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "100.00")

	tx, err := f.svc.Deposit(context.Background(), alice, &entities.DepositRequest{
		AccountID: "1",
		Amount:    decimal.RequireFromString("50.00"),
		Currency:  "USD",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, entities.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, entities.ExternalAccountID, tx.FromAccountID)
	assert.Equal(t, "1", tx.ToAccountID)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("150.00")))
}

func TestWithdraw_HappyPath(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "100.00")

	tx, err := f.svc.Withdraw(context.Background(), alice, &entities.WithdrawRequest{
		AccountID: "1",
		Amount:    decimal.RequireFromString("40.00"),
		Currency:  "USD",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, entities.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, entities.ExternalAccountID, tx.ToAccountID)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("60.00")))
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "30.00")

	_, err := f.svc.Withdraw(context.Background(), alice, &entities.WithdrawRequest{
		AccountID: "1",
		Amount:    decimal.RequireFromString("40.00"),
		Currency:  "USD",
	}, "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInsufficientFunds, appErr.Code)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("30.00")))
}

// ===== reverse =====

func completedTransfer(t *testing.T, f *fixture) *entities.Transaction {
	t.Helper()
	tx, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "200.00"), "")
	require.NoError(t, err)
	return tx
}

func TestReverse_HappyPathRestoresBalances(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	original := completedTransfer(t, f)

	reversal, err := f.svc.Reverse(context.Background(), alice, original.ID, "customer request", "")
	require.NoError(t, err)

	assert.Equal(t, entities.TransactionTypeReversal, reversal.Type)
	assert.Equal(t, entities.TransactionStatusCompleted, reversal.Status)
	assert.Equal(t, "2", reversal.FromAccountID)
	assert.Equal(t, "1", reversal.ToAccountID)
	require.NotNil(t, reversal.OriginalTransactionID)
	assert.Equal(t, original.ID, *reversal.OriginalTransactionID)

	// Both accounts are back at their pre-transfer balances.
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, f.accounts.accounts["2"].Balance.Equal(decimal.RequireFromString("100.00")))

	stored, err := f.store.GetByID(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.TransactionStatusReversed, stored.Status)
	require.NotNil(t, stored.ReversalTransactionID)
	assert.Equal(t, reversal.ID, *stored.ReversalTransactionID)
}

func TestReverse_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Reverse(context.Background(), alice, "missing", "oops", "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeTransactionNotFound, appErr.Code)
}

func TestReverse_AccessDenied(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	original := completedTransfer(t, f)

	mallory := entities.Principal{Name: "mallory", Roles: []string{entities.RoleUser}}
	_, err := f.svc.Reverse(context.Background(), mallory, original.ID, "mine now", "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeForbidden, appErr.Type)
}

func TestReverse_InvalidState(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "100.00")
	// Force a failed transaction.
	_, err := f.svc.Transfer(context.Background(), alice, transferReq("1", "2", "50.00"), "")
	require.Error(t, err)

	var failed *entities.Transaction
	for _, tx := range f.store.txs {
		failed = tx
	}
	require.NotNil(t, failed)

	_, err = f.svc.Reverse(context.Background(), alice, failed.ID, "undo", "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidState, appErr.Code)
}

func TestReverse_CannotReverseReversal(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	original := completedTransfer(t, f)

	reversal, err := f.svc.Reverse(context.Background(), alice, original.ID, "undo", "")
	require.NoError(t, err)

	_, err = f.svc.Reverse(context.Background(), alice, reversal.ID, "undo the undo", "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeCannotReverseReversal, appErr.Code)
}

func TestReverse_WindowExpired(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	original := completedTransfer(t, f)

	// Jump the clock 31 days ahead.
	f.svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err := f.svc.Reverse(context.Background(), alice, original.ID, "too late", "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeReversalWindowExpired, appErr.Code)

	// No reversal transaction was created.
	assert.Len(t, f.store.txs, 1)
}

func TestReverse_AlreadyReversed(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	original := completedTransfer(t, f)

	_, err := f.svc.Reverse(context.Background(), alice, original.ID, "undo", "")
	require.NoError(t, err)

	_, err = f.svc.Reverse(context.Background(), alice, original.ID, "undo again", "")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	// The original is now REVERSED, which fails the status precondition.
	assert.Equal(t, apperrors.CodeInvalidState, appErr.Code)
}

func TestReverse_IdempotencyKeyRetryReturnsStoredReversal(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	original := completedTransfer(t, f)

	first, err := f.svc.Reverse(context.Background(), alice, original.ID, "customer request", "rev-key-1")
	require.NoError(t, err)
	require.Equal(t, entities.TransactionStatusCompleted, first.Status)

	callsAfterFirst := f.accounts.opCalls

	// The original is REVERSED now; a retried request with the same key
	// must replay the stored reversal, not fail a precondition.
	second, err := f.svc.Reverse(context.Background(), alice, original.ID, "customer request", "rev-key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, entities.TransactionStatusCompleted, second.Status)
	assert.Equal(t, callsAfterFirst, f.accounts.opCalls)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, f.accounts.accounts["2"].Balance.Equal(decimal.RequireFromString("100.00")))
}

func TestReverse_DepositSkipsExternalLeg(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "100.00")

	deposit, err := f.svc.Deposit(context.Background(), alice, &entities.DepositRequest{
		AccountID: "1",
		Amount:    decimal.RequireFromString("50.00"),
		Currency:  "USD",
	}, "")
	require.NoError(t, err)

	reversal, err := f.svc.Reverse(context.Background(), alice, deposit.ID, "chargeback", "")
	require.NoError(t, err)

	assert.Equal(t, entities.TransactionStatusCompleted, reversal.Status)
	assert.Equal(t, "1", reversal.FromAccountID)
	assert.Equal(t, entities.ExternalAccountID, reversal.ToAccountID)
	assert.True(t, f.accounts.accounts["1"].Balance.Equal(decimal.RequireFromString("100.00")))
}

// ===== queries =====

func TestSearch_NonPrivilegedScopedToOwnTransactions(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "500.00")
	completedTransfer(t, f)

	bob := entities.Principal{Name: "bob", Roles: []string{entities.RoleUser}}
	page, err := f.svc.Search(context.Background(), bob, &entities.TransactionSearchFilter{
		OwnerID: "alice", // silently rewritten
		Page:    0, Size: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Content)

	adminPage, err := f.svc.Search(context.Background(), admin, &entities.TransactionSearchFilter{
		OwnerID: "alice",
		Page:    0, Size: 20,
	})
	require.NoError(t, err)
	assert.Len(t, adminPage.Content, 1)
}

func TestHistory_OwnerSeesPagesAndCachePopulates(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")
	f.accounts.addAccount("2", "bob", "100.00")
	completedTransfer(t, f)

	page, err := f.svc.History(context.Background(), alice, "1", 0, 20, "created_at,desc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalElements)

	// Second read is served from the cache.
	_, ok := f.cache.GetPage(context.Background(), "1", 0, 20, "created_at,desc")
	assert.True(t, ok)
}

func TestHistory_NonOwnerForbiddenWithoutExistenceLeak(t *testing.T) {
	f := newFixture()
	f.accounts.addAccount("1", "alice", "500.00")

	bob := entities.Principal{Name: "bob", Roles: []string{entities.RoleUser}}

	_, err := f.svc.History(context.Background(), bob, "1", 0, 20, "created_at,desc")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeForbidden, appErr.Type)

	// A missing account looks identical to a forbidden one.
	_, err = f.svc.History(context.Background(), bob, "404", 0, 20, "created_at,desc")
	require.Error(t, err)
	appErr, ok = apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeForbidden, appErr.Type)
}
