package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/payment-ledger/internal/logging"
)

// ValidSolanaAddress checks if an address parses as a Solana public key
func ValidSolanaAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// SolanaClient is a JSON-RPC client over a short list of RPC endpoints. The
// first endpoint responding to a health probe within the probe timeout is
// selected; a failed call demotes it and triggers a re-probe.
type SolanaClient struct {
	endpoints    []string
	http         *http.Client
	probeTimeout time.Duration
	logger       *logging.Logger

	mu     sync.Mutex
	active string
}

// NewSolanaClient creates a client probing the given endpoints
func NewSolanaClient(endpoints []string, logger *logging.Logger) *SolanaClient {
	return &SolanaClient{
		endpoints:    endpoints,
		http:         &http.Client{Timeout: 15 * time.Second},
		probeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// endpoint returns the active endpoint, probing the list if none is selected
func (c *SolanaClient) endpoint(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != "" {
		return c.active, nil
	}

	for _, url := range c.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		err := c.post(probeCtx, url, "getHealth", nil, nil)
		cancel()
		if err == nil {
			c.active = url
			return url, nil
		}
		c.logger.WithFields(map[string]interface{}{
			"endpoint": url,
			"error":    err.Error(),
		}).Warn("Solana endpoint probe failed")
	}

	return "", fmt.Errorf("no Solana RPC endpoint responded within %s", c.probeTimeout)
}

func (c *SolanaClient) demote(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == url {
		c.active = ""
	}
}

// Call issues a JSON-RPC call against the active endpoint, decoding the
// result into result when non-nil
func (c *SolanaClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	url, err := c.endpoint(ctx)
	if err != nil {
		return err
	}

	if err := c.post(ctx, url, method, params, result); err != nil {
		c.demote(url)
		return err
	}
	return nil
}

func (c *SolanaClient) post(ctx context.Context, url, method string, params []interface{}, result interface{}) error {
	jsonData, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("RPC error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// SolanaInstruction is one jsonParsed instruction
type SolanaInstruction struct {
	Program   string `json:"program"`
	ProgramID string `json:"programId"`
	Parsed    *struct {
		Type string                 `json:"type"`
		Info map[string]interface{} `json:"info"`
	} `json:"parsed,omitempty"`
}

// SolanaTransaction is the jsonParsed getTransaction result
type SolanaTransaction struct {
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               interface{} `json:"err"`
		InnerInstructions []struct {
			Index        int                 `json:"index"`
			Instructions []SolanaInstruction `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			Instructions []SolanaInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a transaction by signature in jsonParsed encoding.
// A nil result with nil error means the signature is unknown to the node.
func (c *SolanaClient) GetTransaction(ctx context.Context, signature solana.Signature) (*SolanaTransaction, error) {
	var tx *SolanaTransaction
	err := c.Call(ctx, "getTransaction", []interface{}{
		signature.String(),
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		},
	}, &tx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// TokenAccountInfo is the owner/mint/balance of an SPL token account
type TokenAccountInfo struct {
	Owner    string
	Mint     string
	Amount   string
	Decimals int
	UIAmount float64
}

// GetTokenAccount resolves a token account's owner, mint and balance
func (c *SolanaClient) GetTokenAccount(ctx context.Context, address solana.PublicKey) (*TokenAccountInfo, error) {
	var result struct {
		Value *struct {
			Data struct {
				Parsed struct {
					Info struct {
						Owner       string `json:"owner"`
						Mint        string `json:"mint"`
						TokenAmount struct {
							Amount   string  `json:"amount"`
							Decimals int     `json:"decimals"`
							UIAmount float64 `json:"uiAmount"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}

	err := c.Call(ctx, "getAccountInfo", []interface{}{
		address.String(),
		map[string]interface{}{"encoding": "jsonParsed"},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("token account not found: %s", address)
	}

	info := result.Value.Data.Parsed.Info
	return &TokenAccountInfo{
		Owner:    info.Owner,
		Mint:     info.Mint,
		Amount:   info.TokenAmount.Amount,
		Decimals: info.TokenAmount.Decimals,
		UIAmount: info.TokenAmount.UIAmount,
	}, nil
}

// GetTokenBalance sums the wallet's balances across its token accounts for a
// mint
func (c *SolanaClient) GetTokenBalance(ctx context.Context, wallet, mint solana.PublicKey) (float64, error) {
	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}

	err := c.Call(ctx, "getTokenAccountsByOwner", []interface{}{
		wallet.String(),
		map[string]interface{}{"mint": mint.String()},
		map[string]interface{}{"encoding": "jsonParsed"},
	}, &result)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, account := range result.Value {
		total += account.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}
