package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/models"
	"github.com/payment-ledger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creditRecord(accountID, naturalKey string, credits int64) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Kind:       models.RecordCredit,
		NaturalKey: naturalKey,
		Credits:    credits,
		Rail:       types.RailEVM,
		CreatedAt:  time.Now(),
	}
}

func debitRecord(accountID string, credits int64) *models.PaymentRecord {
	id := uuid.New().String()
	return &models.PaymentRecord{
		ID:         id,
		AccountID:  accountID,
		Kind:       models.RecordDebit,
		NaturalKey: id,
		Credits:    credits,
		CreatedAt:  time.Now(),
	}
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := types.WalletKey("0xAbC1111111111111111111111111111111111111")

	first, err := store.EnsureAccount(ctx, key)
	require.NoError(t, err)
	second, err := store.EnsureAccount(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// EVM addresses fold to lowercase on the way in.
	assert.Equal(t, "0xabc1111111111111111111111111111111111111", first.WalletAddress)
}

func TestCreditDuplicateNaturalKeyIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	account, err := store.EnsureAccount(ctx, types.EmailKey("user@example.com"))
	require.NoError(t, err)

	applied, err := store.Credit(ctx, creditRecord(account.ID, "pi_123", 50))
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.Equal(t, int64(50), applied.NewBalance)

	again, err := store.Credit(ctx, creditRecord(account.ID, "pi_123", 50))
	require.NoError(t, err)
	assert.Nil(t, again, "second credit with the same natural key must be a no-op")

	account, err = store.GetAccount(ctx, types.EmailKey("user@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Credits)
	assert.Equal(t, int64(50), account.TotalCreditsEarned)
	assert.Equal(t, 1, store.RecordCount(account.ID))
}

func TestDebitInsufficientCredits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	account, err := store.EnsureAccount(ctx, types.UserIDKey("u-1"))
	require.NoError(t, err)

	_, err = store.Credit(ctx, creditRecord(account.ID, "tx-1", 30))
	require.NoError(t, err)

	_, err = store.Debit(ctx, debitRecord(account.ID, 50))
	require.True(t, errors.IsCode(err, errors.CodeInsufficientCredits))

	var paymentErr *errors.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, int64(50), paymentErr.Details["required"])
	assert.Equal(t, int64(30), paymentErr.Details["balance"])

	account, err = store.GetAccount(ctx, types.UserIDKey("u-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(30), account.Credits, "failed debit must not change the balance")
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	account, err := store.EnsureAccount(ctx, types.UserIDKey("u-2"))
	require.NoError(t, err)

	_, err = store.Credit(ctx, creditRecord(account.ID, "tx-1", 100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	successes := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Debit(ctx, debitRecord(account.ID, 10)); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	granted := 0
	for range successes {
		granted++
	}
	assert.Equal(t, 10, granted, "exactly balance/amount debits may succeed")

	account, err = store.GetAccount(ctx, types.UserIDKey("u-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Credits)
	assert.Equal(t, int64(100), account.TotalCreditsSpent)
}

func TestGetAccountUnknownKey(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetAccount(context.Background(), types.EmailKey("nobody@example.com"))
	assert.True(t, errors.IsCode(err, errors.CodeAccountNotFound))
}

func TestUpdateEntitlementCachesDisplayFlags(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	account, err := store.EnsureAccount(ctx, types.UserIDKey("u-3"))
	require.NoError(t, err)

	checked := time.Now()
	err = store.UpdateEntitlement(ctx, account.ID, &models.EntitlementResult{
		IsHolder:         true,
		OwnedCollections: []string{"apes"},
		CheckedAt:        checked,
	})
	require.NoError(t, err)

	account, err = store.GetAccount(ctx, types.UserIDKey("u-3"))
	require.NoError(t, err)
	assert.True(t, account.NFTHolder)
	assert.Equal(t, []string{"apes"}, account.OwnedCollections)
	assert.Equal(t, checked, account.EntitlementChecked)
}

func TestBalanceNeverNegativeProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("random debit sequences never drive the balance negative", prop.ForAll(
		func(initial int64, debits []int64) bool {
			store := NewMemoryStore()
			ctx := context.Background()
			account, err := store.EnsureAccount(ctx, types.UserIDKey("prop"))
			if err != nil {
				return false
			}
			if _, err := store.Credit(ctx, creditRecord(account.ID, "seed", initial)); err != nil {
				return false
			}

			var spent int64
			for _, amount := range debits {
				record, err := store.Debit(ctx, debitRecord(account.ID, amount))
				if err != nil {
					if !errors.IsCode(err, errors.CodeInsufficientCredits) {
						return false
					}
					continue
				}
				spent += amount
				if record.NewBalance < 0 {
					return false
				}
			}

			account, err = store.GetAccount(ctx, types.UserIDKey("prop"))
			return err == nil &&
				account.Credits >= 0 &&
				account.Credits == initial-spent &&
				account.TotalCreditsSpent == spent
		},
		gen.Int64Range(0, 200),
		gen.SliceOf(gen.Int64Range(1, 60)),
	))

	properties.TestingRun(t)
}
