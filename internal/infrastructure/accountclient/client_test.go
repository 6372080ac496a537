package accountclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/config"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

func testConfig(baseURL string) config.AccountServiceConfig {
	return config.AccountServiceConfig{
		BaseURL:               baseURL,
		TimeoutSeconds:        2,
		MaxRetries:            2,
		RetryInitialDelayMs:   1,
		BreakerWindowSize:     15,
		BreakerFailureRate:    0.6,
		BreakerMinCalls:       100, // effectively disabled unless a test lowers it
		BreakerOpenSeconds:    45,
		BreakerHalfOpenProbes: 3,
		ServiceToken:          "svc-token",
	}
}

func newTestClient(t *testing.T, cfg config.AccountServiceConfig) *Client {
	t.Helper()
	return New(cfg, logger.New("error", "test"))
}

func TestGetAccount_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/accounts/42", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(entities.Account{
			ID:          42,
			OwnerID:     "alice",
			AccountType: entities.AccountTypeChecking,
			Balance:     decimal.RequireFromString("100.00"),
			Version:     3,
		})
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL))

	account, err := client.GetAccount(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), account.ID)
	assert.Equal(t, "alice", account.OwnerID)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("100.00")))
}

func TestGetAccount_NotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": 404, "error": "ACCOUNT_NOT_FOUND", "message": "account not found",
		})
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL))

	_, err := client.GetAccount(context.Background(), "99")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	// 404 is a final answer, never retried.
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestApplyBalanceOperation_BusinessRejectionNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": 400, "error": "INSUFFICIENT_FUNDS", "message": "insufficient funds",
		})
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL))

	_, err := client.ApplyBalanceOperation(context.Background(), "42", &entities.BalanceOperationRequest{
		OperationID: "op-1",
		Delta:       decimal.RequireFromString("-50.00"),
	})

	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeBusiness, appErr.Type)
	assert.Equal(t, "INSUFFICIENT_FUNDS", appErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(entities.Account{ID: 42, OwnerID: "alice", AccountType: entities.AccountTypeChecking})
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL))

	account, err := client.GetAccount(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), account.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCall_ExhaustedRetriesSurfaceUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	client := newTestClient(t, cfg)

	_, err := client.GetAccount(context.Background(), "42")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeUnavailable, appErr.Type)
	assert.Equal(t, int32(cfg.MaxRetries+1), atomic.LoadInt32(&calls))
}

func TestCall_OpenCircuitShortCircuits(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 0
	cfg.BreakerMinCalls = 2
	client := newTestClient(t, cfg)

	// Trip the breaker.
	for i := 0; i < 3; i++ {
		_, _ = client.GetAccount(context.Background(), "42")
	}

	before := atomic.LoadInt32(&calls)
	_, err := client.GetAccount(context.Background(), "42")
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeUnavailable, appErr.Type)
	// No request reached the server while the circuit was open.
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestApplyBalanceOperation_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/accounts/42/balance-operations", r.URL.Path)

		var req entities.BalanceOperationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tx-1:debit", req.OperationID)

		json.NewEncoder(w).Encode(entities.BalanceOperationResult{
			AccountID:   42,
			OperationID: req.OperationID,
			Applied:     true,
			NewBalance:  decimal.RequireFromString("70.00"),
			Version:     2,
			Status:      entities.BalanceOperationApplied,
		})
	}))
	defer server.Close()

	client := newTestClient(t, testConfig(server.URL))

	result, err := client.ApplyBalanceOperation(context.Background(), "42", &entities.BalanceOperationRequest{
		OperationID: "tx-1:debit",
		Delta:       decimal.RequireFromString("-30.00"),
	})

	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, entities.BalanceOperationApplied, result.Status)
	assert.True(t, result.NewBalance.Equal(decimal.RequireFromString("70.00")))
}
