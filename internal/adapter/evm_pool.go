// Package adapter provides the chain-facing clients: an EVM RPC pool with
// endpoint failover, a Solana JSON-RPC client with endpoint probing, and the
// indexed ownership API client used by the entitlement checker.
package adapter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/types"
)

var evmAddressPattern = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")

// ValidEVMAddress checks if an address is well-formed for EVM chains
func ValidEVMAddress(address string) bool {
	return evmAddressPattern.MatchString(address)
}

// EVMPool manages one lazily-dialed ethclient per chain with failover across
// an ordered endpoint list. Rate-limit, timeout and connection errors warrant
// advancing to the next endpoint; other errors do not.
type EVMPool struct {
	mu        sync.Mutex
	endpoints map[types.ChainID][]string
	clients   map[types.ChainID]*ethclient.Client
	active    map[types.ChainID]int
	logger    *logging.Logger
}

// NewEVMPool creates a pool over the configured endpoint lists
func NewEVMPool(endpoints map[types.ChainID][]string, logger *logging.Logger) *EVMPool {
	return &EVMPool{
		endpoints: endpoints,
		clients:   make(map[types.ChainID]*ethclient.Client),
		active:    make(map[types.ChainID]int),
		logger:    logger,
	}
}

// Supports reports whether the pool has endpoints for a chain
func (p *EVMPool) Supports(chain types.ChainID) bool {
	return len(p.endpoints[chain]) > 0
}

// Client returns the client for the chain's currently active endpoint,
// dialing it on first use
func (p *EVMPool) Client(chain types.ChainID) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[chain]; ok {
		return client, nil
	}

	urls, ok := p.endpoints[chain]
	if !ok || len(urls) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for chain %s", chain)
	}

	url := urls[p.active[chain]%len(urls)]
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s endpoint: %w", chain, err)
	}

	p.clients[chain] = client
	return client, nil
}

// Failover advances the chain to its next endpoint and drops the stale
// client. Returns an error once every endpoint has been tried.
func (p *EVMPool) Failover(chain types.ChainID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	urls := p.endpoints[chain]
	if len(urls) == 0 {
		return fmt.Errorf("no RPC endpoints configured for chain %s", chain)
	}

	next := p.active[chain] + 1
	if next >= len(urls) {
		return fmt.Errorf("all %d endpoints exhausted for chain %s", len(urls), chain)
	}
	p.active[chain] = next

	if client, ok := p.clients[chain]; ok {
		client.Close()
		delete(p.clients, chain)
	}

	p.logger.WithFields(map[string]interface{}{
		"chain":    chain,
		"endpoint": urls[next],
	}).Warn("Failing over to alternate RPC endpoint")

	return nil
}

// ShouldFailover determines if an error warrants trying another endpoint
func ShouldFailover(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}

// Close closes every dialed client
func (p *EVMPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for chain, client := range p.clients {
		client.Close()
		delete(p.clients, chain)
	}
}
