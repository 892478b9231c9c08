package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaim() types.PaymentClaim {
	return types.PaymentClaim{
		TxID:          "0xabc",
		ClaimedSender: "0xSender",
		TokenSymbol:   "USDC",
		Amount:        25,
		ChainID:       types.ChainEthereum,
		Rail:          types.RailEVM,
	}
}

func TestGuardRejectsRepeatWithinWindow(t *testing.T) {
	guard := NewGuard(NewMemoryStore(16), 30*time.Second)
	key := types.WalletKey("0xSender")
	ctx := context.Background()

	require.NoError(t, guard.Check(ctx, key, testClaim()))

	err := guard.Check(ctx, key, testClaim())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDuplicateSubmission))
}

func TestGuardAllowsDifferentClaims(t *testing.T) {
	guard := NewGuard(NewMemoryStore(16), 30*time.Second)
	key := types.WalletKey("0xSender")
	ctx := context.Background()

	require.NoError(t, guard.Check(ctx, key, testClaim()))

	other := testClaim()
	other.TxID = "0xdef"
	assert.NoError(t, guard.Check(ctx, key, other))

	// Same claim from a different payer is also allowed.
	assert.NoError(t, guard.Check(ctx, types.EmailKey("a@b.c"), testClaim()))
}

func TestMemoryStoreWindowExpiry(t *testing.T) {
	store := NewMemoryStore(16)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	dup, _, err := store.Remember(ctx, "fp", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)

	now = now.Add(10 * time.Second)
	dup, retryAfter, err := store.Remember(ctx, "fp", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 20*time.Second, retryAfter)

	// Past the window the fingerprint is accepted again.
	now = now.Add(25 * time.Second)
	dup, _, err = store.Remember(ctx, "fp", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMemoryStoreEvictionReopensWindow(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	_, _, _ = store.Remember(ctx, "a", time.Minute)
	_, _, _ = store.Remember(ctx, "b", time.Minute)
	_, _, _ = store.Remember(ctx, "c", time.Minute) // evicts "a"

	dup, _, err := store.Remember(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, dup, "evicted fingerprint is advisory-forgotten")
}

func TestRedisStoreRemember(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	ctx := context.Background()

	dup, _, err := store.Remember(ctx, "fp", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, retryAfter, err := store.Remember(ctx, "fp", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Greater(t, retryAfter, time.Duration(0))

	// After the key expires the fingerprint is fresh again.
	mr.FastForward(time.Minute)
	dup, _, err = store.Remember(ctx, "fp", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestGuardSwallowsStoreFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	guard := NewGuard(NewRedisStore(client), 30*time.Second)
	mr.Close() // kill the backend

	// Advisory: a broken store never blocks a claim.
	assert.NoError(t, guard.Check(context.Background(), types.WalletKey("0xSender"), testClaim()))
}

func TestFingerprintStability(t *testing.T) {
	key := types.WalletKey("0xSender")
	a := Fingerprint(key, testClaim())
	b := Fingerprint(key, testClaim())
	assert.Equal(t, a, b)

	changed := testClaim()
	changed.Amount = 26
	assert.NotEqual(t, a, Fingerprint(key, changed))
}
