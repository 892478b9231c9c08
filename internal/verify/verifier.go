// Package verify confirms payment claims against their settlement layer
// before the ledger grants credits. Verifiers are read-only: they establish
// what actually settled, and the ledger alone records the outcome.
package verify

import (
	"context"

	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/types"
)

// Result carries the settled facts a verifier established for a claim.
// ActualAmount is the amount observed at the settlement layer, in token
// units, and overrides the claimed figure for credit derivation.
type Result struct {
	NaturalKey   string
	TxID         string
	Sender       string
	Token        string
	ActualAmount float64
	ChainID      types.ChainID
	Rail         types.Rail
}

// Verifier confirms a single claim against its settlement layer
type Verifier interface {
	Verify(ctx context.Context, claim types.PaymentClaim) (*Result, error)
}

// Registry dispatches claims to the verifier registered for their rail
type Registry struct {
	verifiers map[types.Rail]Verifier
}

// NewRegistry creates an empty verifier registry
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[types.Rail]Verifier)}
}

// Register installs the verifier for a rail, replacing any previous one
func (r *Registry) Register(rail types.Rail, v Verifier) {
	r.verifiers[rail] = v
}

// Verify validates the claim shape and hands it to the rail's verifier
func (r *Registry) Verify(ctx context.Context, claim types.PaymentClaim) (*Result, error) {
	if err := claim.Validate(); err != nil {
		return nil, errors.NewInvalidClaim(err.Error())
	}

	verifier, ok := r.verifiers[claim.Rail]
	if !ok {
		return nil, errors.NewUnsupportedChain(string(claim.ChainID))
	}

	return verifier.Verify(ctx, claim)
}
