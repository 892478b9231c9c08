// Package dedup implements the advisory duplicate-submission guard. It
// rejects exact repeats of a payment claim within a short window so retried
// or double-clicked submissions never reach the verifiers. A miss here
// (eviction, restart, horizontal scaling) must never corrupt the ledger:
// correctness rests entirely on the ledger's natural-key check.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/types"
)

// Store records first-seen timestamps for claim fingerprints. Implementations
// are process-local (MemoryStore) or shared (RedisStore).
type Store interface {
	// Remember records the fingerprint if it is not already present within
	// the window. It returns true when the fingerprint was already known,
	// along with how long the caller should wait before resubmitting.
	Remember(ctx context.Context, fingerprint string, window time.Duration) (duplicate bool, retryAfter time.Duration, err error)
}

// Guard is the advisory pre-filter in front of the verifiers
type Guard struct {
	store  Store
	window time.Duration
}

// NewGuard creates a guard rejecting repeats within the given window
func NewGuard(store Store, window time.Duration) *Guard {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Guard{store: store, window: window}
}

// Check rejects a second submission of the same claim fingerprint within the
// window. Store failures are swallowed: the guard is advisory and must never
// block a legitimate claim.
func (g *Guard) Check(ctx context.Context, key types.AccountKey, claim types.PaymentClaim) error {
	fp := Fingerprint(key, claim)

	duplicate, retryAfter, err := g.store.Remember(ctx, fp, g.window)
	if err != nil {
		return nil
	}
	if duplicate {
		seconds := int(retryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		return errors.NewDuplicateSubmission(seconds)
	}
	return nil
}

// Fingerprint hashes the salient claim fields plus the identified payer.
// Equal claims from the same payer collide; anything else does not.
func Fingerprint(key types.AccountKey, claim types.PaymentClaim) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.8f|%s|%s",
		key.String(),
		claim.NaturalKey(),
		claim.ClaimedSender,
		claim.TokenSymbol,
		claim.Amount,
		claim.ChainID,
		claim.Rail,
	)
	return hex.EncodeToString(h.Sum(nil))
}
