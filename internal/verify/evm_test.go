package verify

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testVault = common.HexToAddress("0x4444444444444444444444444444444444444444")
	otherAddr = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testChain = big.NewInt(1)
	sixDecRaw = func(units int64) *big.Int { return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000)) }
)

type fakeEVMClient struct {
	tx       *ethtypes.Transaction
	pending  bool
	receipt  *ethtypes.Receipt
	decimals uint8
	err      error
}

func (f *fakeEVMClient) TransactionByHash(context.Context, common.Hash) (*ethtypes.Transaction, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.tx == nil {
		return nil, false, ethereum.NotFound
	}
	return f.tx, f.pending, nil
}

func (f *fakeEVMClient) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeEVMClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, 32)
	out[31] = f.decimals
	return out, nil
}

type fakeSource struct {
	clients   []EVMClient
	active    int
	failovers int
}

func (s *fakeSource) Client(types.ChainID) (EVMClient, error) { return s.clients[s.active], nil }

func (s *fakeSource) Failover(types.ChainID) error {
	if s.active+1 >= len(s.clients) {
		return stderrors.New("all endpoints exhausted")
	}
	s.active++
	s.failovers++
	return nil
}

// signedTx returns a transaction signed by a fresh key, plus the sender it
// recovers to.
func signedTx(t *testing.T) (*ethtypes.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signer := ethtypes.LatestSignerForChainID(testChain)
	tx := ethtypes.MustSignNewTx(key, signer, &ethtypes.DynamicFeeTx{
		ChainID:   testChain,
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       60_000,
		To:        &testToken,
		Value:     big.NewInt(0),
	})
	return tx, crypto.PubkeyToAddress(key.PublicKey)
}

func addressTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }

func transferLog(from, to common.Address, amount *big.Int) *ethtypes.Log {
	data := make([]byte, 32)
	amount.FillBytes(data)
	return &ethtypes.Log{
		Address: testToken,
		Topics:  []common.Hash{transferEventSig, addressTopic(from), addressTopic(to)},
		Data:    data,
	}
}

func successReceipt(logs ...*ethtypes.Log) *ethtypes.Receipt {
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, Logs: logs}
}

func newEVMVerifier(source ClientSource) *EVMVerifier {
	return NewEVMVerifier(EVMVerifierConfig{
		Source: source,
		Wallet: testVault.Hex(),
		TokenContracts: map[types.ChainID]string{
			types.ChainEthereum: testToken.Hex(),
		},
	})
}

func evmClaim(sender common.Address, amount float64) types.PaymentClaim {
	return types.PaymentClaim{
		TxID:          "0x" + common.Bytes2Hex(make([]byte, 31)) + "aa",
		ClaimedSender: sender.Hex(),
		TokenSymbol:   "USDC",
		Amount:        amount,
		ChainID:       types.ChainEthereum,
		Rail:          types.RailEVM,
	}
}

func TestEVMVerifySuccess(t *testing.T) {
	tx, sender := signedTx(t)
	client := &fakeEVMClient{
		tx:       tx,
		receipt:  successReceipt(transferLog(sender, testVault, sixDecRaw(50))),
		decimals: 6,
	}
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{client}})

	result, err := verifier.Verify(context.Background(), evmClaim(sender, 50))

	require.NoError(t, err)
	assert.Equal(t, 50.0, result.ActualAmount)
	assert.Equal(t, sender.Hex(), result.Sender)
	assert.Equal(t, testToken.Hex(), result.Token)
	assert.Equal(t, types.RailEVM, result.Rail)
}

func TestEVMVerifyFailedReceiptAlwaysRejects(t *testing.T) {
	tx, sender := signedTx(t)
	// Even with a perfectly matching transfer log, a reverted receipt rejects.
	client := &fakeEVMClient{
		tx: tx,
		receipt: &ethtypes.Receipt{
			Status: ethtypes.ReceiptStatusFailed,
			Logs:   []*ethtypes.Log{transferLog(sender, testVault, sixDecRaw(50))},
		},
		decimals: 6,
	}
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{client}})

	_, err := verifier.Verify(context.Background(), evmClaim(sender, 50))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestEVMVerifySenderMismatch(t *testing.T) {
	tx, _ := signedTx(t)
	client := &fakeEVMClient{tx: tx, receipt: successReceipt(), decimals: 6}
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{client}})

	claim := evmClaim(otherAddr, 50)
	_, err := verifier.Verify(context.Background(), claim)
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestEVMVerifySenderCaseInsensitive(t *testing.T) {
	tx, sender := signedTx(t)
	client := &fakeEVMClient{
		tx:       tx,
		receipt:  successReceipt(transferLog(sender, testVault, sixDecRaw(10))),
		decimals: 6,
	}
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{client}})

	claim := evmClaim(sender, 10)
	claim.ClaimedSender = "0X" + common.Bytes2Hex(sender.Bytes()) // lowercased hex, odd prefix
	_, err := verifier.Verify(context.Background(), claim)
	assert.NoError(t, err)
}

func TestEVMVerifyNoMatchingTransfer(t *testing.T) {
	tx, sender := signedTx(t)
	client := &fakeEVMClient{
		tx: tx,
		receipt: successReceipt(
			transferLog(sender, otherAddr, sixDecRaw(50)), // wrong recipient
			transferLog(otherAddr, testVault, sixDecRaw(50)), // wrong payer
		),
		decimals: 6,
	}
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{client}})

	_, err := verifier.Verify(context.Background(), evmClaim(sender, 50))
	assert.True(t, errors.IsCode(err, errors.CodeVerificationFailed))
}

func TestEVMVerifyLastMatchingTransferWins(t *testing.T) {
	tx, sender := signedTx(t)
	client := &fakeEVMClient{
		tx: tx,
		receipt: successReceipt(
			transferLog(sender, testVault, sixDecRaw(10)),
			transferLog(sender, testVault, sixDecRaw(30)),
		),
		decimals: 6,
	}
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{client}})

	result, err := verifier.Verify(context.Background(), evmClaim(sender, 30))
	require.NoError(t, err)
	assert.Equal(t, 30.0, result.ActualAmount)
}

func TestEVMVerifyTxNotFoundIsRetryable(t *testing.T) {
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{&fakeEVMClient{}}})

	_, err := verifier.Verify(context.Background(), evmClaim(otherAddr, 50))
	assert.True(t, errors.IsCode(err, errors.CodeTxNotFound))
	assert.True(t, errors.IsRetryable(err))
}

func TestEVMVerifyFailsOverOnRateLimit(t *testing.T) {
	tx, sender := signedTx(t)
	limited := &fakeEVMClient{err: stderrors.New("429 too many requests")}
	healthy := &fakeEVMClient{
		tx:       tx,
		receipt:  successReceipt(transferLog(sender, testVault, sixDecRaw(20))),
		decimals: 6,
	}
	source := &fakeSource{clients: []EVMClient{limited, healthy}}
	verifier := newEVMVerifier(source)

	result, err := verifier.Verify(context.Background(), evmClaim(sender, 20))

	require.NoError(t, err)
	assert.Equal(t, 20.0, result.ActualAmount)
	assert.Equal(t, 1, source.failovers)
}

func TestEVMVerifyUnsupportedChain(t *testing.T) {
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{&fakeEVMClient{}}})

	claim := evmClaim(otherAddr, 50)
	claim.ChainID = types.ChainPolygon
	_, err := verifier.Verify(context.Background(), claim)
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedChain))
}

func TestEVMVerifyMalformedHash(t *testing.T) {
	verifier := newEVMVerifier(&fakeSource{clients: []EVMClient{&fakeEVMClient{}}})

	claim := evmClaim(otherAddr, 50)
	claim.TxID = "0xnothex"
	_, err := verifier.Verify(context.Background(), claim)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidClaim))
}
