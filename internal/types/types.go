// Package types provides common type definitions for the payment ledger system.
package types

import (
	"fmt"
	"strings"
)

// Rail represents the payment channel a claim arrived through
type Rail string

const (
	// RailEVM represents an on-chain payment on an EVM-family chain
	RailEVM Rail = "evm"
	// RailSolana represents an on-chain payment on Solana
	RailSolana Rail = "solana"
	// RailCard represents a card payment confirmed by the payment processor
	RailCard Rail = "card"
)

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainID = "polygon"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
	// ChainSolana represents the Solana mainnet
	ChainSolana ChainID = "solana"
)

// Family returns the chain family for a chain identifier
func (c ChainID) Family() Rail {
	if c == ChainSolana {
		return RailSolana
	}
	return RailEVM
}

// AccountKeyKind discriminates the AccountKey union
type AccountKeyKind string

const (
	// KeyWallet identifies an account by wallet address
	KeyWallet AccountKeyKind = "wallet"
	// KeyEmail identifies an account by email address
	KeyEmail AccountKeyKind = "email"
	// KeyUserID identifies an account by opaque user id
	KeyUserID AccountKeyKind = "user_id"
)

// AccountKey is a tagged union identifying exactly one account.
// Exactly one identity dimension is set; call sites switch on Kind
// exhaustively instead of probing optional fields.
type AccountKey struct {
	Kind  AccountKeyKind
	Value string
}

// WalletKey builds an AccountKey from a wallet address. Hex addresses fold to
// lowercase; base58 addresses are case-sensitive and pass through untouched.
func WalletKey(address string) AccountKey {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		address = strings.ToLower(address)
	}
	return AccountKey{Kind: KeyWallet, Value: address}
}

// EmailKey builds an AccountKey from an email address
func EmailKey(email string) AccountKey {
	return AccountKey{Kind: KeyEmail, Value: strings.ToLower(strings.TrimSpace(email))}
}

// UserIDKey builds an AccountKey from an opaque user id
func UserIDKey(id string) AccountKey {
	return AccountKey{Kind: KeyUserID, Value: id}
}

// Validate checks that the key carries a kind and a non-empty value
func (k AccountKey) Validate() error {
	switch k.Kind {
	case KeyWallet, KeyEmail, KeyUserID:
		if k.Value == "" {
			return fmt.Errorf("account key value is empty for kind %s", k.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown account key kind: %q", k.Kind)
	}
}

// String renders the key for logs and cache keys
func (k AccountKey) String() string {
	return string(k.Kind) + ":" + k.Value
}

// PaymentClaim is the inbound claim shape handed over by the HTTP layer.
// Exactly one of TxID or PaymentIntentID is set depending on the rail.
type PaymentClaim struct {
	TxID            string  `json:"txId,omitempty"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
	ClaimedSender   string  `json:"claimedSender"`
	TokenSymbol     string  `json:"tokenSymbol"`
	Amount          float64 `json:"amount"`
	ChainID         ChainID `json:"chainId"`
	Rail            Rail    `json:"rail"`
}

// NaturalKey returns the external payment identifier that guarantees
// at-most-once crediting: the processor intent id when present, else the
// transaction hash.
func (c PaymentClaim) NaturalKey() string {
	if c.PaymentIntentID != "" {
		return c.PaymentIntentID
	}
	return c.TxID
}

// Validate checks the claim carries enough to be verified
func (c PaymentClaim) Validate() error {
	if c.NaturalKey() == "" {
		return fmt.Errorf("claim carries neither txId nor paymentIntentId")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("claim amount must be positive, got %v", c.Amount)
	}
	switch c.Rail {
	case RailEVM, RailSolana:
		if c.ClaimedSender == "" {
			return fmt.Errorf("on-chain claim requires claimedSender")
		}
		if c.TxID == "" {
			return fmt.Errorf("on-chain claim requires txId")
		}
	case RailCard:
		if c.PaymentIntentID == "" {
			return fmt.Errorf("card claim requires paymentIntentId")
		}
	default:
		return fmt.Errorf("unknown rail: %q", c.Rail)
	}
	return nil
}
