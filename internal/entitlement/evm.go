package entitlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller is the slice of the EVM client the checker needs
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Function selectors for the two read-only token calls the checker makes.
// balanceOf(address) and decimals() are shared by ERC-20 and ERC-721
// (ERC-721 has no decimals; it is only called for minimum-balance checks).
var (
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31}
	selectorDecimals  = []byte{0x31, 0x3c, 0xe5, 0x67}
)

// tokenBalanceOf calls balanceOf(owner) on the token contract
func tokenBalanceOf(ctx context.Context, caller ContractCaller, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, selectorBalanceOf...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf returned no data for %s", token.Hex())
	}
	return new(big.Int).SetBytes(out), nil
}

// tokenDecimals calls decimals() on the token contract
func tokenDecimals(ctx context.Context, caller ContractCaller, token common.Address) (uint8, error) {
	data := append([]byte{}, selectorDecimals...)

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call failed: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("decimals returned no data for %s", token.Hex())
	}
	return uint8(new(big.Int).SetBytes(out).Uint64()), nil
}

// normalizedBalance converts a raw balance to token units
func normalizedBalance(raw *big.Int, decimals uint8) float64 {
	value := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	normalized, _ := new(big.Float).Quo(value, scale).Float64()
	return normalized
}
