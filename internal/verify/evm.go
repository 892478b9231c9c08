package verify

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/payment-ledger/internal/adapter"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/types"
)

// transferEventSig is the canonical ERC-20 Transfer(address,address,uint256)
// event signature hash.
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var selectorDecimals = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()

// EVMClient is the read surface the verifier needs from an EVM node.
// *ethclient.Client satisfies it.
type EVMClient interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ClientSource hands out per-chain clients and advances endpoints on failure
type ClientSource interface {
	Client(chain types.ChainID) (EVMClient, error)
	Failover(chain types.ChainID) error
}

// PoolSource adapts an adapter.EVMPool to the ClientSource interface
type PoolSource struct {
	Pool *adapter.EVMPool
}

// Client implements ClientSource
func (s PoolSource) Client(chain types.ChainID) (EVMClient, error) {
	return s.Pool.Client(chain)
}

// Failover implements ClientSource
func (s PoolSource) Failover(chain types.ChainID) error {
	return s.Pool.Failover(chain)
}

// EVMVerifier confirms stablecoin payments on EVM-family chains: the
// transaction must be mined with a successful receipt, signed by the claimed
// sender, and carry a Transfer on the configured token contract from the
// claimed sender to the payment wallet. The last matching transfer sets the
// settled amount.
type EVMVerifier struct {
	source      ClientSource
	wallet      common.Address
	tokens      map[types.ChainID]common.Address
	callTimeout time.Duration
	logger      *logging.Logger
}

// EVMVerifierConfig configures an EVMVerifier
type EVMVerifierConfig struct {
	Source ClientSource
	// Wallet is the receiving payment wallet
	Wallet string
	// TokenContracts maps each supported chain to its accepted stablecoin
	TokenContracts map[types.ChainID]string
	CallTimeout    time.Duration
	Logger         *logging.Logger
}

// NewEVMVerifier creates a verifier for the configured chains
func NewEVMVerifier(cfg EVMVerifierConfig) *EVMVerifier {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	tokens := make(map[types.ChainID]common.Address, len(cfg.TokenContracts))
	for chain, contract := range cfg.TokenContracts {
		tokens[chain] = common.HexToAddress(contract)
	}
	return &EVMVerifier{
		source:      cfg.Source,
		wallet:      common.HexToAddress(cfg.Wallet),
		tokens:      tokens,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger,
	}
}

// Verify implements Verifier
func (v *EVMVerifier) Verify(ctx context.Context, claim types.PaymentClaim) (*Result, error) {
	token, ok := v.tokens[claim.ChainID]
	if !ok || claim.ChainID.Family() != types.RailEVM {
		return nil, errors.NewUnsupportedChain(string(claim.ChainID))
	}
	if !validTxHash(claim.TxID) {
		return nil, errors.NewInvalidClaim(fmt.Sprintf("malformed transaction hash: %s", claim.TxID))
	}
	hash := common.HexToHash(claim.TxID)

	var (
		tx      *ethtypes.Transaction
		pending bool
	)
	err := v.call(ctx, claim.ChainID, func(ctx context.Context, client EVMClient) error {
		var err error
		tx, pending, err = client.TransactionByHash(ctx, hash)
		return err
	})
	if stderrors.Is(err, ethereum.NotFound) {
		return nil, errors.NewTxNotFound(claim.TxID)
	}
	if err != nil {
		return nil, errors.NewProviderError(string(claim.ChainID), err)
	}
	if pending {
		return nil, errors.NewTxNotFound(claim.TxID)
	}

	var receipt *ethtypes.Receipt
	err = v.call(ctx, claim.ChainID, func(ctx context.Context, client EVMClient) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, hash)
		return err
	})
	if stderrors.Is(err, ethereum.NotFound) {
		return nil, errors.NewTxNotFound(claim.TxID)
	}
	if err != nil {
		return nil, errors.NewProviderError(string(claim.ChainID), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, errors.NewVerificationFailed("transaction reverted on-chain", map[string]interface{}{
			"txId": claim.TxID,
		})
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, errors.NewVerificationFailed("could not recover transaction sender", map[string]interface{}{
			"txId": claim.TxID,
		})
	}
	if !strings.EqualFold(sender.Hex(), claim.ClaimedSender) {
		return nil, errors.NewVerificationFailed("on-chain sender does not match claimed sender", map[string]interface{}{
			"claimedSender": claim.ClaimedSender,
			"onChainSender": sender.Hex(),
		})
	}

	// Scan every canonical Transfer on the token contract. The last transfer
	// from the sender to the payment wallet determines the settled amount.
	var rawAmount *big.Int
	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) != 3 || log.Topics[0] != transferEventSig {
			continue
		}
		from := common.BytesToAddress(log.Topics[1].Bytes())
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if to == v.wallet && from == sender {
			rawAmount = new(big.Int).SetBytes(log.Data)
		}
	}
	if rawAmount == nil {
		return nil, errors.NewVerificationFailed("no token transfer to the payment wallet found", map[string]interface{}{
			"txId":  claim.TxID,
			"token": token.Hex(),
		})
	}

	var decimals uint8
	err = v.call(ctx, claim.ChainID, func(ctx context.Context, client EVMClient) error {
		var err error
		decimals, err = tokenDecimals(ctx, client, token)
		return err
	})
	if err != nil {
		return nil, errors.NewProviderError(string(claim.ChainID), err)
	}

	return &Result{
		NaturalKey:   claim.NaturalKey(),
		TxID:         claim.TxID,
		Sender:       sender.Hex(),
		Token:        token.Hex(),
		ActualAmount: amountInUnits(rawAmount, decimals),
		ChainID:      claim.ChainID,
		Rail:         types.RailEVM,
	}, nil
}

// call runs one RPC operation under the call timeout, advancing to the next
// endpoint and retrying when the error warrants failover
func (v *EVMVerifier) call(ctx context.Context, chain types.ChainID, fn func(ctx context.Context, client EVMClient) error) error {
	for {
		client, err := v.source.Client(chain)
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, v.callTimeout)
		err = fn(callCtx, client)
		cancel()

		if err == nil || !adapter.ShouldFailover(err) {
			return err
		}
		if foErr := v.source.Failover(chain); foErr != nil {
			return err
		}
		v.logger.WithError(err).WithField("chain", chain).Warn("Retrying RPC call on alternate endpoint")
	}
}

func tokenDecimals(ctx context.Context, client EVMClient, token common.Address) (uint8, error) {
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: selectorDecimals}, nil)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty decimals() response from %s", token.Hex())
	}
	return out[len(out)-1], nil
}

// amountInUnits converts a raw integer amount to token units
func amountInUnits(raw *big.Int, decimals uint8) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	amount, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetInt(scale)).Float64()
	return amount
}

func validTxHash(hash string) bool {
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return false
	}
	for _, c := range hash[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
