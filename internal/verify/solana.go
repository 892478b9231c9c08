package verify

import (
	"context"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/payment-ledger/internal/adapter"
	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/types"
)

// SolanaRPC is the read surface the verifier needs. *adapter.SolanaClient
// satisfies it.
type SolanaRPC interface {
	GetTransaction(ctx context.Context, signature solana.Signature) (*adapter.SolanaTransaction, error)
	GetTokenAccount(ctx context.Context, address solana.PublicKey) (*adapter.TokenAccountInfo, error)
}

// SolanaVerifier confirms token payments on Solana: the transaction must have
// succeeded recently, and carry a transfer instruction whose destination token
// account is owned by the payment wallet for the configured mint, funded by
// the claimed sender. Transactions older than the age limit are rejected so a
// signature cannot be replayed long after it settled.
type SolanaVerifier struct {
	rpc       SolanaRPC
	wallet    string
	mint      string
	maxTxAge  time.Duration
	tolerance float64
	logger    *logging.Logger
	now       func() time.Time
}

// SolanaVerifierConfig configures a SolanaVerifier
type SolanaVerifierConfig struct {
	RPC SolanaRPC
	// Wallet is the receiving payment wallet (token-account owner)
	Wallet string
	// Mint is the accepted stablecoin mint
	Mint string
	// MaxTxAge bounds how long after settlement a signature is accepted
	MaxTxAge time.Duration
	// Tolerance is the permitted relative deviation between the claimed and
	// settled amount
	Tolerance float64
	Logger    *logging.Logger
}

// NewSolanaVerifier creates a verifier for the configured wallet and mint
func NewSolanaVerifier(cfg SolanaVerifierConfig) *SolanaVerifier {
	if cfg.MaxTxAge <= 0 {
		cfg.MaxTxAge = time.Hour
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 0.01
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	return &SolanaVerifier{
		rpc:       cfg.RPC,
		wallet:    cfg.Wallet,
		mint:      cfg.Mint,
		maxTxAge:  cfg.MaxTxAge,
		tolerance: cfg.Tolerance,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Verify implements Verifier
func (v *SolanaVerifier) Verify(ctx context.Context, claim types.PaymentClaim) (*Result, error) {
	if claim.ChainID != types.ChainSolana {
		return nil, errors.NewUnsupportedChain(string(claim.ChainID))
	}
	signature, err := solana.SignatureFromBase58(claim.TxID)
	if err != nil {
		return nil, errors.NewInvalidClaim("malformed transaction signature: " + claim.TxID)
	}

	tx, err := v.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return nil, errors.NewProviderError("solana", err)
	}
	if tx == nil {
		return nil, errors.NewTxNotFound(claim.TxID)
	}
	if tx.Meta != nil && tx.Meta.Err != nil {
		return nil, errors.NewVerificationFailed("transaction failed on-chain", map[string]interface{}{
			"txId": claim.TxID,
		})
	}
	if tx.BlockTime == nil {
		return nil, errors.NewVerificationFailed("transaction has no block time", map[string]interface{}{
			"txId": claim.TxID,
		})
	}
	if age := v.now().Sub(time.Unix(*tx.BlockTime, 0)); age > v.maxTxAge {
		return nil, errors.NewVerificationFailed("transaction is too old to credit", map[string]interface{}{
			"txId":       claim.TxID,
			"ageSeconds": int64(age.Seconds()),
		})
	}

	for _, instruction := range collectTransferInstructions(tx) {
		amount, ok := v.matchTransfer(ctx, instruction, claim.ClaimedSender)
		if !ok {
			continue
		}
		if relativeDeviation(claim.Amount, amount) > v.tolerance {
			return nil, errors.NewVerificationFailed("settled amount does not match claim", map[string]interface{}{
				"claimedAmount": claim.Amount,
				"settledAmount": amount,
			})
		}
		return &Result{
			NaturalKey:   claim.NaturalKey(),
			TxID:         claim.TxID,
			Sender:       claim.ClaimedSender,
			Token:        v.mint,
			ActualAmount: amount,
			ChainID:      types.ChainSolana,
			Rail:         types.RailSolana,
		}, nil
	}

	return nil, errors.NewVerificationFailed("no token transfer to the payment wallet found", map[string]interface{}{
		"txId": claim.TxID,
		"mint": v.mint,
	})
}

// collectTransferInstructions gathers top-level and inner token-transfer
// instructions in execution order
func collectTransferInstructions(tx *adapter.SolanaTransaction) []adapter.SolanaInstruction {
	var out []adapter.SolanaInstruction
	appendTransfers := func(instructions []adapter.SolanaInstruction) {
		for _, ix := range instructions {
			if ix.Program != "spl-token" || ix.Parsed == nil {
				continue
			}
			if ix.Parsed.Type == "transfer" || ix.Parsed.Type == "transferChecked" {
				out = append(out, ix)
			}
		}
	}
	appendTransfers(tx.Transaction.Message.Instructions)
	if tx.Meta != nil {
		for _, inner := range tx.Meta.InnerInstructions {
			appendTransfers(inner.Instructions)
		}
	}
	return out
}

// matchTransfer resolves the instruction's token accounts and reports the
// settled amount when the destination belongs to the payment wallet for the
// configured mint and the source belongs to the claimed sender
func (v *SolanaVerifier) matchTransfer(ctx context.Context, ix adapter.SolanaInstruction, claimedSender string) (float64, bool) {
	info := ix.Parsed.Info
	destination, err := solana.PublicKeyFromBase58(infoString(info, "destination"))
	if err != nil {
		return 0, false
	}
	source, err := solana.PublicKeyFromBase58(infoString(info, "source"))
	if err != nil {
		return 0, false
	}

	destAccount, err := v.rpc.GetTokenAccount(ctx, destination)
	if err != nil || destAccount == nil {
		return 0, false
	}
	if destAccount.Owner != v.wallet || destAccount.Mint != v.mint {
		return 0, false
	}

	sourceAccount, err := v.rpc.GetTokenAccount(ctx, source)
	if err != nil || sourceAccount == nil || sourceAccount.Owner != claimedSender {
		return 0, false
	}

	switch ix.Parsed.Type {
	case "transferChecked":
		tokenAmount, ok := info["tokenAmount"].(map[string]interface{})
		if !ok {
			return 0, false
		}
		amount, ok := tokenAmount["uiAmount"].(float64)
		return amount, ok
	default:
		// Plain transfer carries the raw integer amount; scale by the
		// destination account's decimals.
		raw, err := strconv.ParseUint(infoString(info, "amount"), 10, 64)
		if err != nil {
			return 0, false
		}
		scale := 1.0
		for i := 0; i < destAccount.Decimals; i++ {
			scale *= 10
		}
		return float64(raw) / scale, true
	}
}

func infoString(info map[string]interface{}, key string) string {
	s, _ := info[key].(string)
	return s
}

func relativeDeviation(claimed, actual float64) float64 {
	if claimed <= 0 {
		return 1
	}
	deviation := (actual - claimed) / claimed
	if deviation < 0 {
		deviation = -deviation
	}
	return deviation
}
