package accountclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/config"
	apperrors "github.com/ledger-stack/ledger_service/pkg/errors"
	"github.com/ledger-stack/ledger_service/pkg/logger"
	"github.com/ledger-stack/ledger_service/pkg/metrics"
	"github.com/ledger-stack/ledger_service/pkg/retry"
)

// AccountAPI is the outbound surface of the account service as seen by
// the transaction orchestrator.
type AccountAPI interface {
	GetAccount(ctx context.Context, accountID string) (*entities.Account, error)
	ApplyBalanceOperation(ctx context.Context, accountID string, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error)
}

// transientError marks failures worth retrying: transport errors and
// 5xx responses. Everything else is a final answer.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// errorBody is the error envelope returned by the account service.
type errorBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client calls the account service with a per-call timeout, retries
// with exponential backoff on transient failures, and a circuit breaker
// shared across calls. Only unavailability is surfaced as retryable;
// business rejections and 404s pass through unchanged.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	retrier      *retry.Retrier
	logger       *logger.Logger
}

// New creates a resilient account service client.
func New(cfg config.AccountServiceConfig, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 8 * time.Second
	}

	minCalls := uint32(cfg.BreakerMinCalls)
	failureRate := cfg.BreakerFailureRate

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "account-service",
		MaxRequests: uint32(cfg.BreakerHalfOpenProbes),
		Interval:    time.Duration(cfg.BreakerWindowSize) * 4 * time.Second,
		Timeout:     time.Duration(cfg.BreakerOpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minCalls {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	policy := retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableFunc: func(err error) bool {
			var te *transientError
			return errors.As(err, &te)
		},
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		serviceToken: cfg.ServiceToken,
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      breaker,
		retrier:      retry.NewRetrier(policy, log.Zap()),
		logger:       log,
	}
}

// GetAccount fetches an account by ID.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*entities.Account, error) {
	url := fmt.Sprintf("%s/api/accounts/%s", c.baseURL, accountID)

	body, err := c.call(ctx, "get_account", http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var account entities.Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("decode account response: %w", err))
	}
	return &account, nil
}

// ApplyBalanceOperation submits a balance operation for an account.
func (c *Client) ApplyBalanceOperation(ctx context.Context, accountID string, req *entities.BalanceOperationRequest) (*entities.BalanceOperationResult, error) {
	url := fmt.Sprintf("%s/api/accounts/%s/balance-operations", c.baseURL, accountID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("encode balance operation: %w", err))
	}

	body, err := c.call(ctx, "apply_balance_operation", http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}

	var result entities.BalanceOperationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("decode balance operation response: %w", err))
	}
	return &result, nil
}

// call runs one logical request through retry and circuit breaker and
// maps the outcome onto the client error taxonomy.
func (c *Client) call(ctx context.Context, operation, method, url string, payload []byte) ([]byte, error) {
	result, err := c.retrier.DoWithResult(ctx, func() (interface{}, error) {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, method, url, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Circuit open is a final answer for this attempt chain.
				return nil, apperrors.Wrap(apperrors.Unavailable("account service circuit open"), err)
			}
			return nil, err
		}
		return res, nil
	})

	if err != nil {
		metrics.RecordAccountClientCall(operation, c.outcomeLabel(err))
		return nil, c.mapError(err)
	}

	metrics.RecordAccountClientCall(operation, "success")
	return result.([]byte), nil
}

// doRequest performs a single HTTP attempt. Transport failures and 5xx
// come back as transient; 4xx are mapped to final business errors.
func (c *Client) doRequest(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("account service request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("read account service response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.ErrAccountNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var eb errorBody
		message := "account service rejected the request"
		code := apperrors.CodeInvalidValue
		if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
			message = eb.Message
			if eb.Error != "" {
				code = eb.Error
			}
		}
		return nil, apperrors.Business(code, message, resp.StatusCode)
	default:
		return nil, &transientError{err: fmt.Errorf("account service returned %d", resp.StatusCode)}
	}
}

// Ping probes the account service liveness endpoint. Used by the
// readiness check; deliberately bypasses the breaker and retries.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/liveness", nil)
	if err != nil {
		return fmt.Errorf("create liveness request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("account service liveness returned %d", resp.StatusCode)
	}
	return nil
}

// mapError folds exhausted retries and raw transient failures into the
// unavailable category; application errors pass through.
func (c *Client) mapError(err error) error {
	var te *transientError
	if errors.As(err, &te) || errors.Is(err, retry.ErrMaxRetriesExceeded) {
		return apperrors.Wrap(apperrors.Unavailable("account service unavailable"), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.Unavailable("account service timed out"), err)
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.Wrap(apperrors.Unavailable("account service unavailable"), err)
}

func (c *Client) outcomeLabel(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		switch appErr.Type {
		case apperrors.ErrorTypeNotFound:
			return "not_found"
		case apperrors.ErrorTypeBusiness, apperrors.ErrorTypeValidation:
			return "rejected"
		}
	}
	return "unavailable"
}
