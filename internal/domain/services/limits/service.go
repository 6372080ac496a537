package limits

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// TransactionSums provides rolling-window spend totals.
type TransactionSums interface {
	SumCompletedAmounts(ctx context.Context, accountID string, txType entities.TransactionType, since time.Time) (decimal.Decimal, error)
}

// Service evaluates transaction limits against per-account-type
// profiles. Evaluation is advisory: it never locks accounts, and the
// balance engine stays authoritative on overdraft.
type Service struct {
	mu       sync.RWMutex
	profiles map[entities.AccountType]entities.TransactionLimitProfile

	sums   TransactionSums
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a limit evaluator with no profiles loaded. Until
// profiles are loaded only the fallback cap applies.
func NewService(sums TransactionSums, log *logger.Logger) *Service {
	return &Service{
		profiles: make(map[entities.AccountType]entities.TransactionLimitProfile),
		sums:     sums,
		logger:   log,
		now:      time.Now,
	}
}

// ProfileStore loads limit profiles from persistent storage.
type ProfileStore interface {
	List(ctx context.Context) ([]entities.TransactionLimitProfile, error)
}

// LoadProfilesFromStore loads limit profiles from the database.
func (s *Service) LoadProfilesFromStore(ctx context.Context, store ProfileStore) error {
	profiles, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("load limit profiles: %w", err)
	}

	for i := range profiles {
		if err := profiles[i].Validate(); err != nil {
			return fmt.Errorf("invalid limit profile %q: %w", profiles[i].AccountType, err)
		}
	}

	s.SetProfiles(profiles)
	s.logger.Info("Loaded transaction limit profiles", "count", len(profiles), "source", "database")
	return nil
}

// LoadProfilesFromFile loads limit profiles from a JSON file. The file
// holds an array of profiles keyed by account type.
func (s *Service) LoadProfilesFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read limit profiles: %w", err)
	}

	var profiles []entities.TransactionLimitProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("parse limit profiles: %w", err)
	}

	for i := range profiles {
		if err := profiles[i].Validate(); err != nil {
			return fmt.Errorf("invalid limit profile %d: %w", i, err)
		}
	}

	s.SetProfiles(profiles)
	s.logger.Info("Loaded transaction limit profiles", "count", len(profiles), "path", path)
	return nil
}

// SetProfiles replaces the loaded profile set.
func (s *Service) SetProfiles(profiles []entities.TransactionLimitProfile) {
	next := make(map[entities.AccountType]entities.TransactionLimitProfile, len(profiles))
	for _, p := range profiles {
		next[p.AccountType] = p
	}

	s.mu.Lock()
	s.profiles = next
	s.mu.Unlock()
}

// Check answers whether the operation is within limits. A loaded
// profile takes precedence; the flat fallback cap applies only when no
// profile exists for the account type.
func (s *Service) Check(ctx context.Context, accountID string, accountType entities.AccountType, txType entities.TransactionType, amount decimal.Decimal) (entities.LimitDecision, error) {
	s.mu.RLock()
	profile, ok := s.profiles[accountType]
	s.mu.RUnlock()

	if !ok {
		if amount.GreaterThan(entities.FallbackPerTransactionCap) {
			return entities.DenyDecision("per_transaction",
				"amount exceeds the basic transaction cap",
				entities.FallbackPerTransactionCap, amount), nil
		}
		return entities.AllowDecision(), nil
	}

	perTxCap := profile.PerTransaction
	capKind := "per_transaction"
	if override, ok := profile.PerType[txType]; ok {
		perTxCap = override
		capKind = "per_type"
	}
	if perTxCap.IsPositive() && amount.GreaterThan(perTxCap) {
		return entities.DenyDecision(capKind,
			fmt.Sprintf("amount exceeds the %s limit for %s accounts", capKind, accountType),
			perTxCap, amount), nil
	}

	now := s.now()

	if profile.DailyCap.IsPositive() {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		used, err := s.sums.SumCompletedAmounts(ctx, accountID, txType, dayStart)
		if err != nil {
			return entities.LimitDecision{}, fmt.Errorf("daily limit usage: %w", err)
		}
		if used.Add(amount).GreaterThan(profile.DailyCap) {
			return entities.DenyDecision("daily",
				"daily limit exceeded", profile.DailyCap, used), nil
		}
	}

	if profile.MonthlyCap.IsPositive() {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		used, err := s.sums.SumCompletedAmounts(ctx, accountID, txType, monthStart)
		if err != nil {
			return entities.LimitDecision{}, fmt.Errorf("monthly limit usage: %w", err)
		}
		if used.Add(amount).GreaterThan(profile.MonthlyCap) {
			return entities.DenyDecision("monthly",
				"monthly limit exceeded", profile.MonthlyCap, used), nil
		}
	}

	return entities.AllowDecision(), nil
}
