package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAccountStore struct {
	accounts map[int64]*entities.Account
	created  *entities.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[int64]*entities.Account)}
}

func (f *fakeAccountStore) Create(_ context.Context, account *entities.Account) error {
	account.ID = int64(len(f.accounts) + 1)
	f.accounts[account.ID] = account
	f.created = account
	return nil
}

func (f *fakeAccountStore) GetByID(_ context.Context, id int64) (*entities.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	return account, nil
}

func (f *fakeAccountStore) ListByOwner(_ context.Context, ownerID string) ([]*entities.Account, error) {
	var out []*entities.Account
	for _, a := range f.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountStore) SetBalance(_ context.Context, id int64, balance decimal.Decimal) (*entities.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	account.Balance = balance
	account.Version++
	return account, nil
}

func (f *fakeAccountStore) LogicalDelete(_ context.Context, id int64) error {
	if _, ok := f.accounts[id]; !ok {
		return apperrors.ErrAccountNotFound
	}
	delete(f.accounts, id)
	return nil
}

type fakeEngine struct {
	result  *entities.BalanceOperationResult
	err     error
	lastReq *entities.BalanceOperationRequest
}

func (f *fakeEngine) Apply(_ context.Context, _ int64, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeOperationLister struct {
	operations []*entities.BalanceOperation
}

func (f *fakeOperationLister) ListByAccount(context.Context, int64) ([]*entities.BalanceOperation, error) {
	return f.operations, nil
}

func withPrincipal(p entities.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("principal", p)
		c.Next()
	}
}

func newAccountTestRouter(store *fakeAccountStore, engine *fakeEngine, principal entities.Principal) *gin.Engine {
	h := NewAccountHandlers(store, engine, &fakeOperationLister{}, logger.New("error", "test"))

	router := gin.New()
	router.Use(withPrincipal(principal))
	router.POST("/api/accounts", h.CreateAccount)
	router.GET("/api/accounts/:id", h.GetAccount)
	router.POST("/api/accounts/:id/balance-operations", h.ApplyBalanceOperation)
	return router
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAccount_NonPrivilegedOwnerIsForced(t *testing.T) {
	store := newFakeAccountStore()
	router := newAccountTestRouter(store, &fakeEngine{}, entities.Principal{Name: "alice", Roles: []string{"USER"}})

	w := performJSON(router, http.MethodPost, "/api/accounts", map[string]interface{}{
		"ownerId":     "mallory",
		"accountType": "CHECKING",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice", store.created.OwnerID)
}

func TestGetAccount_NonOwnerForbidden(t *testing.T) {
	store := newFakeAccountStore()
	store.accounts[7] = &entities.Account{ID: 7, OwnerID: "bob"}
	router := newAccountTestRouter(store, &fakeEngine{}, entities.Principal{Name: "alice", Roles: []string{"USER"}})

	w := performJSON(router, http.MethodGet, "/api/accounts/7", nil)

	require.Equal(t, http.StatusForbidden, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ACCESS_DENIED", body.Error)
	assert.Equal(t, "/api/accounts/7", body.Path)
}

func TestGetAccount_MissingIs404(t *testing.T) {
	router := newAccountTestRouter(newFakeAccountStore(), &fakeEngine{}, entities.Principal{Name: "alice", Roles: []string{"USER"}})

	w := performJSON(router, http.MethodGet, "/api/accounts/99", nil)

	require.Equal(t, http.StatusNotFound, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ACCOUNT_NOT_FOUND", body.Error)
}

func TestGetAccount_BadIDIsValidationError(t *testing.T) {
	router := newAccountTestRouter(newFakeAccountStore(), &fakeEngine{}, entities.Principal{Name: "alice", Roles: []string{"USER"}})

	w := performJSON(router, http.MethodGet, "/api/accounts/not-a-number", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.ValidationErrors, "id")
}

func TestApplyBalanceOperation_ReturnsEngineResult(t *testing.T) {
	engine := &fakeEngine{result: &entities.BalanceOperationResult{
		OperationID: "op-1",
		AccountID:   7,
		Applied:     true,
		Status:      entities.BalanceOperationApplied,
		NewBalance:  decimal.NewFromInt(250),
		Version:     3,
	}}
	router := newAccountTestRouter(newFakeAccountStore(), engine, entities.Principal{Name: "svc", Roles: []string{"INTERNAL_SERVICE"}})

	w := performJSON(router, http.MethodPost, "/api/accounts/7/balance-operations", map[string]interface{}{
		"operationId": "op-1",
		"delta":       "-50.00",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var result entities.BalanceOperationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, entities.BalanceOperationApplied, result.Status)
	assert.True(t, result.Applied)
	assert.Equal(t, "op-1", engine.lastReq.OperationID)
}

func TestSendError_UnavailableSetsRetryAfter(t *testing.T) {
	router := gin.New()
	router.GET("/boom", func(c *gin.Context) {
		SendError(c, apperrors.Unavailable("account service unavailable"))
	})

	w := performJSON(router, http.MethodGet, "/boom", nil)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestSendError_CarriesTransactionID(t *testing.T) {
	manualErr := apperrors.New(apperrors.ErrorTypeInternal, apperrors.CodeInternalError,
		"manual action required", http.StatusInternalServerError)
	manualErr.TransactionID = "tx-42"

	router := gin.New()
	router.GET("/boom", func(c *gin.Context) {
		SendError(c, manualErr)
	})

	w := performJSON(router, http.MethodGet, "/boom", nil)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tx-42", body.TransactionID)
}
