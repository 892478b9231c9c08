package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/models"
	"github.com/payment-ledger/internal/types"
)

// MemoryStore is an in-memory account store with the same contract as
// AccountRepository: unique-key crediting, conditional debits, and atomic
// balance+history mutation. Used in tests and for single-process runs without
// Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	byKey    map[string]string
	records  map[string]map[string]*models.PaymentRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*models.Account),
		byKey:    make(map[string]string),
		records:  make(map[string]map[string]*models.PaymentRecord),
	}
}

// EnsureAccount returns the account for the key, creating it on first use
func (s *MemoryStore) EnsureAccount(_ context.Context, key types.AccountKey) (*models.Account, error) {
	column, value, err := keyColumn(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[column+"|"+value]; ok {
		return copyAccount(s.accounts[id]), nil
	}

	now := time.Now()
	account := &models.Account{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch key.Kind {
	case types.KeyWallet:
		account.WalletAddress = value
	case types.KeyEmail:
		account.Email = value
	case types.KeyUserID:
		account.UserID = value
	}

	s.accounts[account.ID] = account
	s.byKey[column+"|"+value] = account.ID
	s.records[account.ID] = make(map[string]*models.PaymentRecord)
	return copyAccount(account), nil
}

// GetAccount retrieves the account for the key
func (s *MemoryStore) GetAccount(_ context.Context, key types.AccountKey) (*models.Account, error) {
	column, value, err := keyColumn(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[column+"|"+value]
	if !ok {
		return nil, errors.NewAccountNotFound(key.String())
	}
	return copyAccount(s.accounts[id]), nil
}

// HasPaymentRecord reports whether the account's history already holds the
// natural key
func (s *MemoryStore) HasPaymentRecord(_ context.Context, accountID, naturalKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.records[accountID]
	if !ok {
		return false, nil
	}
	_, exists := history[naturalKey]
	return exists, nil
}

// Credit applies the record and increments the balance atomically. Returns
// (nil, nil) without mutation when the natural key is already recorded.
func (s *MemoryStore) Credit(_ context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[record.AccountID]
	if !ok {
		return nil, errors.NewAccountNotFound(record.AccountID)
	}
	if _, exists := s.records[record.AccountID][record.NaturalKey]; exists {
		return nil, nil
	}

	account.Credits += record.Credits
	account.TotalCreditsEarned += record.Credits
	account.UpdatedAt = time.Now()

	applied := *record
	applied.NewBalance = account.Credits
	s.records[record.AccountID][applied.NaturalKey] = &applied

	out := applied
	return &out, nil
}

// Debit decrements the balance only when it covers the amount
func (s *MemoryStore) Debit(_ context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[record.AccountID]
	if !ok {
		return nil, errors.NewAccountNotFound(record.AccountID)
	}
	if account.Credits < record.Credits {
		return nil, errors.NewInsufficientCredits(record.Credits, account.Credits)
	}

	account.Credits -= record.Credits
	account.TotalCreditsSpent += record.Credits
	account.UpdatedAt = time.Now()

	applied := *record
	applied.NewBalance = account.Credits
	s.records[record.AccountID][applied.NaturalKey] = &applied

	out := applied
	return &out, nil
}

// UpdateEntitlement caches the latest entitlement flags on the account
func (s *MemoryStore) UpdateEntitlement(_ context.Context, accountID string, result *models.EntitlementResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return errors.NewAccountNotFound(accountID)
	}
	account.NFTHolder = result.IsHolder
	account.OwnedCollections = append([]string(nil), result.OwnedCollections...)
	account.EntitlementChecked = result.CheckedAt
	account.UpdatedAt = time.Now()
	return nil
}

// RecordCount reports the number of history records for an account
func (s *MemoryStore) RecordCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[accountID])
}

func copyAccount(account *models.Account) *models.Account {
	out := *account
	out.OwnedCollections = append([]string(nil), account.OwnedCollections...)
	return &out
}
