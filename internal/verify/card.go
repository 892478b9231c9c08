package verify

import (
	"context"

	"github.com/payment-ledger/internal/types"
)

// CardVerifier accepts processor-confirmed card payments. The processor has
// already settled the charge before the claim reaches us; the payment-intent
// id is the settlement proof and doubles as the idempotency key, so there is
// no chain state to cross-check.
type CardVerifier struct{}

// Verify implements Verifier
func (CardVerifier) Verify(_ context.Context, claim types.PaymentClaim) (*Result, error) {
	return &Result{
		NaturalKey:   claim.PaymentIntentID,
		TxID:         claim.TxID,
		Sender:       claim.ClaimedSender,
		Token:        claim.TokenSymbol,
		ActualAmount: claim.Amount,
		ChainID:      claim.ChainID,
		Rail:         types.RailCard,
	}, nil
}
