// Package ledger implements the credit ledger: at-most-once crediting of
// verified payments, conditional debits, and the canonical conversion from
// settled payment amounts to credits.
package ledger

import (
	"math"

	"github.com/payment-ledger/internal/types"
)

// Band scales the conversion rate for payments at or above its threshold
type Band struct {
	Threshold  float64
	Multiplier float64
}

// DefaultBands are the purchase-size bonus bands, ascending
var DefaultBands = []Band{
	{Threshold: 20, Multiplier: 1.1},
	{Threshold: 50, Multiplier: 1.2},
	{Threshold: 80, Multiplier: 1.3},
}

// RateTable is the single source of truth for credit conversion. Both rails
// price through CalculateCredits; they differ only in how holder status
// enters: on-chain payments earn the multiplied rate, card payments earn the
// base rate plus a flat holder bonus.
type RateTable struct {
	// BasePerUnit is the credits granted per stablecoin unit
	BasePerUnit float64
	// NFTMultiplier scales the rate for qualifying holders
	NFTMultiplier float64
	// CardHolderBonus is the flat credit bonus on card purchases by holders
	CardHolderBonus int64
	// Bands are the purchase-size bonus bands, ascending by threshold
	Bands []Band
}

// NewRateTable builds a rate table with the default size bands
func NewRateTable(basePerUnit, nftMultiplier float64, cardHolderBonus int64) RateTable {
	return RateTable{
		BasePerUnit:     basePerUnit,
		NFTMultiplier:   nftMultiplier,
		CardHolderBonus: cardHolderBonus,
		Bands:           DefaultBands,
	}
}

// CalculateCredits converts a settled amount to credits:
// floor(amount × base × sizeMultiplier × nftMultiplier).
func (t RateTable) CalculateCredits(amount float64, isHolder bool) int64 {
	rate := t.BasePerUnit * t.sizeMultiplier(amount)
	if isHolder {
		rate *= t.NFTMultiplier
	}
	return int64(math.Floor(amount * rate))
}

// CreditsFor prices a payment for its rail. Card purchases never earn the
// holder rate multiplier; a holder's card purchase earns the flat bonus
// instead.
func (t RateTable) CreditsFor(rail types.Rail, amount float64, isHolder bool) int64 {
	if rail == types.RailCard {
		credits := t.CalculateCredits(amount, false)
		if isHolder {
			credits += t.CardHolderBonus
		}
		return credits
	}
	return t.CalculateCredits(amount, isHolder)
}

func (t RateTable) sizeMultiplier(amount float64) float64 {
	multiplier := 1.0
	for _, band := range t.Bands {
		if amount >= band.Threshold {
			multiplier = band.Multiplier
		}
	}
	return multiplier
}
