package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/payment-ledger/internal/adapter"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	paymentWallet = "So11111111111111111111111111111111111111112"
	payerWallet   = "Vote111111111111111111111111111111111111111"
	usdcMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	destAccount   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	sourceAccount = "SysvarC1ock11111111111111111111111111111111"
)

var testSignature = strings.Repeat("1", 64)

type fakeSolanaRPC struct {
	tx       *adapter.SolanaTransaction
	txErr    error
	accounts map[string]*adapter.TokenAccountInfo
}

func (f *fakeSolanaRPC) GetTransaction(context.Context, solana.Signature) (*adapter.SolanaTransaction, error) {
	return f.tx, f.txErr
}

func (f *fakeSolanaRPC) GetTokenAccount(_ context.Context, address solana.PublicKey) (*adapter.TokenAccountInfo, error) {
	return f.accounts[address.String()], nil
}

// parsedTx builds an adapter.SolanaTransaction from the jsonParsed payload
// shape the RPC returns
func parsedTx(t *testing.T, payload string) *adapter.SolanaTransaction {
	t.Helper()
	var tx adapter.SolanaTransaction
	require.NoError(t, json.Unmarshal([]byte(payload), &tx))
	return &tx
}

func transferCheckedJSON(source, destination string, uiAmount float64) string {
	return fmt.Sprintf(`{
		"program": "spl-token",
		"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"parsed": {
			"type": "transferChecked",
			"info": {
				"source": %q,
				"destination": %q,
				"mint": %q,
				"tokenAmount": {"uiAmount": %v, "decimals": 6}
			}
		}
	}`, source, destination, usdcMint, uiAmount)
}

func txJSON(blockTime string, metaErr string, topLevel string, inner string) string {
	return fmt.Sprintf(`{
		"blockTime": %s,
		"meta": {"err": %s, "innerInstructions": %s},
		"transaction": {"message": {"instructions": [%s]}}
	}`, blockTime, metaErr, inner, topLevel)
}

func standardAccounts() map[string]*adapter.TokenAccountInfo {
	return map[string]*adapter.TokenAccountInfo{
		destAccount:   {Owner: paymentWallet, Mint: usdcMint, Decimals: 6},
		sourceAccount: {Owner: payerWallet, Mint: usdcMint, Decimals: 6},
	}
}

func newSolanaVerifier(rpc SolanaRPC) *SolanaVerifier {
	return NewSolanaVerifier(SolanaVerifierConfig{
		RPC:    rpc,
		Wallet: paymentWallet,
		Mint:   usdcMint,
	})
}

func solanaClaim(amount float64) types.PaymentClaim {
	return types.PaymentClaim{
		TxID:          testSignature,
		ClaimedSender: payerWallet,
		TokenSymbol:   "USDC",
		Amount:        amount,
		ChainID:       types.ChainSolana,
		Rail:          types.RailSolana,
	}
}

func recentBlockTime() string {
	return fmt.Sprintf("%d", time.Now().Add(-time.Minute).Unix())
}

func TestSolanaVerifySuccess(t *testing.T) {
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON(recentBlockTime(), "null",
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: standardAccounts(),
	}
	verifier := newSolanaVerifier(rpc)

	result, err := verifier.Verify(context.Background(), solanaClaim(25))

	require.NoError(t, err)
	assert.Equal(t, 25.0, result.ActualAmount)
	assert.Equal(t, payerWallet, result.Sender)
	assert.Equal(t, usdcMint, result.Token)
	assert.Equal(t, types.RailSolana, result.Rail)
}

func TestSolanaVerifyTooOldAlwaysRejects(t *testing.T) {
	old := fmt.Sprintf("%d", time.Now().Add(-2*time.Hour).Unix())
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON(old, "null",
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: standardAccounts(),
	}
	verifier := newSolanaVerifier(rpc)

	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestSolanaVerifyAgeBoundaryUsesClock(t *testing.T) {
	blockTime := time.Now().Unix()
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON(fmt.Sprintf("%d", blockTime), "null",
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: standardAccounts(),
	}
	verifier := newSolanaVerifier(rpc)
	// 1s inside the limit passes, 1s beyond it rejects.
	verifier.now = func() time.Time { return time.Unix(blockTime, 0).Add(time.Hour - time.Second) }
	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.NoError(t, err)

	verifier.now = func() time.Time { return time.Unix(blockTime, 0).Add(time.Hour + time.Second) }
	_, err = verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestSolanaVerifyErroredTransaction(t *testing.T) {
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON(recentBlockTime(), `{"InstructionError": [0, "Custom"]}`,
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: standardAccounts(),
	}
	verifier := newSolanaVerifier(rpc)

	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestSolanaVerifyMissingBlockTime(t *testing.T) {
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON("null", "null",
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: standardAccounts(),
	}
	verifier := newSolanaVerifier(rpc)

	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestSolanaVerifyUnknownSignatureIsRetryable(t *testing.T) {
	verifier := newSolanaVerifier(&fakeSolanaRPC{})

	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeTxNotFound))
	assert.True(t, errors.IsRetryable(err))
}

func TestSolanaVerifyAmountTolerance(t *testing.T) {
	tests := []struct {
		name    string
		settled float64
		claimed float64
		wantOK  bool
	}{
		{"exact", 25, 25, true},
		{"within one percent", 24.8, 25, true},
		{"short by five percent", 23.75, 25, false},
		{"overpaid is fine within tolerance", 25.2, 25, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := &fakeSolanaRPC{
				tx: parsedTx(t, txJSON(recentBlockTime(), "null",
					transferCheckedJSON(sourceAccount, destAccount, tt.settled), "[]")),
				accounts: standardAccounts(),
			}
			verifier := newSolanaVerifier(rpc)

			result, err := verifier.Verify(context.Background(), solanaClaim(tt.claimed))
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, tt.settled, result.ActualAmount)
			} else {
				assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
			}
		})
	}
}

func TestSolanaVerifyWalksInnerInstructions(t *testing.T) {
	// A plain transfer nested under a program invocation; raw amount scaled by
	// the destination account's decimals.
	inner := fmt.Sprintf(`[{"index": 0, "instructions": [{
		"program": "spl-token",
		"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"parsed": {
			"type": "transfer",
			"info": {"source": %q, "destination": %q, "amount": "30000000"}
		}
	}]}]`, sourceAccount, destAccount)
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, fmt.Sprintf(`{
			"blockTime": %s,
			"meta": {"err": null, "innerInstructions": %s},
			"transaction": {"message": {"instructions": []}}
		}`, recentBlockTime(), inner)),
		accounts: standardAccounts(),
	}
	verifier := newSolanaVerifier(rpc)

	result, err := verifier.Verify(context.Background(), solanaClaim(30))

	require.NoError(t, err)
	assert.Equal(t, 30.0, result.ActualAmount)
}

func TestSolanaVerifyWrongDestinationOwner(t *testing.T) {
	accounts := standardAccounts()
	accounts[destAccount].Owner = payerWallet // not the payment wallet
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON(recentBlockTime(), "null",
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: accounts,
	}
	verifier := newSolanaVerifier(rpc)

	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestSolanaVerifyWrongSourceOwner(t *testing.T) {
	accounts := standardAccounts()
	accounts[sourceAccount].Owner = paymentWallet
	rpc := &fakeSolanaRPC{
		tx: parsedTx(t, txJSON(recentBlockTime(), "null",
			transferCheckedJSON(sourceAccount, destAccount, 25), "[]")),
		accounts: accounts,
	}
	verifier := newSolanaVerifier(rpc)

	_, err := verifier.Verify(context.Background(), solanaClaim(25))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}
