package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// OwnershipClient queries an indexed ownership-by-contract HTTP API. This is
// an optimization over scanning chain state directly: one call answers
// "does wallet hold anything from contract" without enumerating balances.
// Requests are rate limited to stay within the provider's free tier.
type OwnershipClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOwnershipClient creates a client for the given API base URL
func NewOwnershipClient(baseURL, apiKey string) *OwnershipClient {
	return &OwnershipClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// ownershipResponse is the API's isHolderOfContract response shape
type ownershipResponse struct {
	IsHolderOfContract bool `json:"isHolderOfContract"`
}

// IsHolderOfContract reports whether wallet holds at least one token from the
// given contract on the chain the API endpoint is pinned to
func (c *OwnershipClient) IsHolderOfContract(ctx context.Context, wallet, contract string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	endpoint := fmt.Sprintf("%s/%s/isHolderOfContract?wallet=%s&contractAddress=%s",
		c.baseURL, c.apiKey, url.QueryEscape(wallet), url.QueryEscape(contract))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed ownershipResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed.IsHolderOfContract, nil
}
