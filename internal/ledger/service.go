package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/models"
	"github.com/payment-ledger/internal/types"
	"github.com/payment-ledger/internal/verify"
)

// Store is the persistence surface the ledger requires. Implementations
// guarantee two things: Credit inserts the history record and increments the
// balance in one atomic operation, returning (nil, nil) without mutation when
// the natural key is already recorded; Debit applies the decrement only when
// the current balance covers it, failing with INSUFFICIENT_CREDITS otherwise.
type Store interface {
	EnsureAccount(ctx context.Context, key types.AccountKey) (*models.Account, error)
	GetAccount(ctx context.Context, key types.AccountKey) (*models.Account, error)
	HasPaymentRecord(ctx context.Context, accountID, naturalKey string) (bool, error)
	Credit(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error)
	Debit(ctx context.Context, record *models.PaymentRecord) (*models.PaymentRecord, error)
	UpdateEntitlement(ctx context.Context, accountID string, result *models.EntitlementResult) error
}

// ClaimVerifier confirms a claim against its settlement layer.
// *verify.Registry satisfies it.
type ClaimVerifier interface {
	Verify(ctx context.Context, claim types.PaymentClaim) (*verify.Result, error)
}

// Entitlements resolves holder status. *entitlement.Checker satisfies it.
type Entitlements interface {
	Check(ctx context.Context, wallet string, bypass bool) *models.EntitlementResult
}

// DuplicateGuard pre-filters rapid resubmissions. *dedup.Guard satisfies it.
type DuplicateGuard interface {
	Check(ctx context.Context, key types.AccountKey, claim types.PaymentClaim) error
}

// Archive receives applied records for out-of-band analytics. Must not block.
type Archive interface {
	RecordApplied(record *models.PaymentRecord)
}

// Service is the credit ledger
type Service struct {
	store        Store
	verifier     ClaimVerifier
	entitlements Entitlements
	guard        DuplicateGuard
	archive      Archive
	rates        RateTable
	logger       *logging.Logger
}

// ServiceConfig configures a ledger Service. Guard and Archive are optional.
type ServiceConfig struct {
	Store        Store
	Verifier     ClaimVerifier
	Entitlements Entitlements
	Guard        DuplicateGuard
	Archive      Archive
	Rates        RateTable
	Logger       *logging.Logger
}

// NewService creates the ledger service
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	return &Service{
		store:        cfg.Store,
		verifier:     cfg.Verifier,
		entitlements: cfg.Entitlements,
		guard:        cfg.Guard,
		archive:      cfg.Archive,
		rates:        cfg.Rates,
		logger:       cfg.Logger,
	}
}

// Credit verifies the claim and credits the account at most once per natural
// key. A claim whose natural key is already recorded returns (nil, nil) with
// no mutation, so webhook re-delivery, client retries and polling races all
// converge on a single record.
func (s *Service) Credit(ctx context.Context, key types.AccountKey, claim types.PaymentClaim) (*models.PaymentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, errors.NewInvalidClaim(err.Error())
	}
	if err := claim.Validate(); err != nil {
		return nil, errors.NewInvalidClaim(err.Error())
	}
	if s.guard != nil {
		if err := s.guard.Check(ctx, key, claim); err != nil {
			return nil, err
		}
	}

	account, err := s.store.EnsureAccount(ctx, key)
	if err != nil {
		return nil, err
	}

	// Cheap history probe before paying for chain verification. The unique
	// key on insert below is the backstop for races past this point.
	exists, err := s.store.HasPaymentRecord(ctx, account.ID, claim.NaturalKey())
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.WithFields(map[string]interface{}{
			"accountId":  account.ID,
			"naturalKey": claim.NaturalKey(),
		}).Info("Payment already processed, skipping")
		return nil, nil
	}

	result, err := s.verifier.Verify(ctx, claim)
	if err != nil {
		return nil, err
	}

	entitlement := s.freshEntitlement(ctx, account, result)
	isHolder := entitlement != nil && entitlement.IsHolder
	credits := s.rates.CreditsFor(claim.Rail, result.ActualAmount, isHolder)

	record := &models.PaymentRecord{
		ID:         uuid.New().String(),
		AccountID:  account.ID,
		Kind:       models.RecordCredit,
		NaturalKey: result.NaturalKey,
		TxID:       result.TxID,
		IntentID:   claim.PaymentIntentID,
		Token:      result.Token,
		RawAmount:  result.ActualAmount,
		Credits:    credits,
		ChainID:    result.ChainID,
		Rail:       result.Rail,
		CreatedAt:  time.Now(),
	}

	applied, err := s.store.Credit(ctx, record)
	if err != nil {
		return nil, err
	}
	if applied == nil {
		// Lost the insert race to a concurrent submission of the same payment.
		return nil, nil
	}

	if entitlement != nil {
		// Cached display flags only; never read back for pricing.
		if err := s.store.UpdateEntitlement(ctx, account.ID, entitlement); err != nil {
			s.logger.WithError(err).WithField("accountId", account.ID).Warn("Failed to cache entitlement flags")
		}
	}
	if s.archive != nil {
		s.archive.RecordApplied(applied)
	}

	s.logger.WithFields(map[string]interface{}{
		"accountId":  account.ID,
		"naturalKey": applied.NaturalKey,
		"credits":    applied.Credits,
		"rail":       applied.Rail,
		"newBalance": applied.NewBalance,
	}).Info("Credited verified payment")

	return applied, nil
}

// Debit spends credits from the account. The decrement is conditional at the
// storage layer on the balance covering the amount, so concurrent spends can
// never drive the balance negative.
func (s *Service) Debit(ctx context.Context, key types.AccountKey, amount int64, reason string) (*models.PaymentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, errors.NewInvalidClaim(err.Error())
	}
	if amount <= 0 {
		return nil, errors.NewInvalidClaim("debit amount must be positive")
	}

	account, err := s.store.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}

	record := &models.PaymentRecord{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		Kind:      models.RecordDebit,
		Credits:   amount,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	record.NaturalKey = record.ID

	applied, err := s.store.Debit(ctx, record)
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		s.archive.RecordApplied(applied)
	}

	s.logger.WithFields(map[string]interface{}{
		"accountId":  account.ID,
		"credits":    amount,
		"reason":     reason,
		"newBalance": applied.NewBalance,
	}).Info("Debited credits")

	return applied, nil
}

// Account returns the account for a key
func (s *Service) Account(ctx context.Context, key types.AccountKey) (*models.Account, error) {
	if err := key.Validate(); err != nil {
		return nil, errors.NewInvalidClaim(err.Error())
	}
	return s.store.GetAccount(ctx, key)
}

// freshEntitlement recomputes holder status at credit time. Holdings can
// change hands between visits, so the cached account flags are never trusted
// for pricing. The wallet checked is the account's linked wallet, falling
// back to the verified on-chain sender.
func (s *Service) freshEntitlement(ctx context.Context, account *models.Account, result *verify.Result) *models.EntitlementResult {
	if s.entitlements == nil {
		return nil
	}
	wallet := account.WalletAddress
	if wallet == "" && result.Rail != types.RailCard {
		wallet = result.Sender
	}
	if wallet == "" {
		return nil
	}
	return s.entitlements.Check(ctx, wallet, true)
}
