// Package models provides data models for the payment ledger system.
package models

import (
	"time"

	"github.com/payment-ledger/internal/types"
)

// Account represents a credit account. At least one identity dimension
// (wallet, email or opaque user id) is set.
type Account struct {
	ID            string `json:"id" db:"id"`
	WalletAddress string `json:"walletAddress,omitempty" db:"wallet_address"`
	Email         string `json:"email,omitempty" db:"email"`
	UserID        string `json:"userId,omitempty" db:"user_id"`

	// Credits is the spendable balance. Never negative.
	Credits int64 `json:"credits" db:"credits"`

	// TotalCreditsEarned and TotalCreditsSpent are independently monotonic
	// running totals, tracked separately from Credits.
	TotalCreditsEarned int64 `json:"totalCreditsEarned" db:"total_credits_earned"`
	TotalCreditsSpent  int64 `json:"totalCreditsSpent" db:"total_credits_spent"`

	// Cached entitlement for display paths only. Credit computation always
	// recomputes entitlement fresh.
	NFTHolder           bool      `json:"nftHolder" db:"nft_holder"`
	OwnedCollections    []string  `json:"ownedCollections,omitempty" db:"owned_collections"`
	EntitlementChecked  time.Time `json:"entitlementCheckedAt" db:"entitlement_checked_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// RecordKind distinguishes credit grants from spends in the history
type RecordKind string

const (
	// RecordCredit marks a balance increment from a verified payment
	RecordCredit RecordKind = "credit"
	// RecordDebit marks a balance decrement from a generation spend
	RecordDebit RecordKind = "debit"
)

// PaymentRecord is one immutable entry in an account's append-only history.
// Created exactly once per verified payment or spend; never mutated or
// deleted. NaturalKey is unique within an account's history and acts as the
// idempotency backstop.
type PaymentRecord struct {
	ID         string        `json:"id" db:"id"`
	AccountID  string        `json:"accountId" db:"account_id"`
	Kind       RecordKind    `json:"kind" db:"kind"`
	NaturalKey string        `json:"naturalKey" db:"natural_key"`
	TxID       string        `json:"txId,omitempty" db:"tx_id"`
	IntentID   string        `json:"paymentIntentId,omitempty" db:"intent_id"`
	Token      string        `json:"token,omitempty" db:"token"`
	RawAmount  float64       `json:"rawAmount" db:"raw_amount"`
	Credits    int64         `json:"credits" db:"credits"`
	ChainID    types.ChainID `json:"chainId,omitempty" db:"chain_id"`
	Rail       types.Rail    `json:"rail" db:"rail"`
	Reason     string        `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`

	// NewBalance is the balance observed immediately after this record was
	// applied, echoed to the caller.
	NewBalance int64 `json:"newBalance" db:"new_balance"`
}

// Collection describes one configured qualifying holding: either an NFT
// contract or a minimum-balance fungible token, pinned to a chain.
type Collection struct {
	Name       string        `json:"name"`
	ChainID    types.ChainID `json:"chainId"`
	Address    string        `json:"address"`
	// MinBalance > 0 marks a fungible minimum-balance check; zero means NFT
	// ownership (any strictly positive balance qualifies).
	MinBalance float64 `json:"minBalance,omitempty"`
}

// EntitlementResult is the outcome of an ownership check across all
// configured collections.
type EntitlementResult struct {
	Wallet           string    `json:"wallet"`
	OwnedCollections []string  `json:"ownedCollections"`
	IsHolder         bool      `json:"isHolder"`
	CheckedAt        time.Time `json:"checkedAt"`
}
