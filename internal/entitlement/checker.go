// Package entitlement resolves whether a wallet qualifies for the NFT-holder
// discount tier by checking its holdings against the configured qualifying
// collections across chains. Failures degrade to "not a holder": a chain
// outage or a bad collection never blocks the caller.
package entitlement

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/payment-ledger/internal/adapter"
	"github.com/payment-ledger/internal/cache"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/models"
	"github.com/payment-ledger/internal/types"
)

// EVMSource hands out contract callers per EVM chain
type EVMSource interface {
	Supports(chain types.ChainID) bool
	Caller(chain types.ChainID) (ContractCaller, error)
}

// SolanaBalances resolves a wallet's balance for a mint
type SolanaBalances interface {
	GetTokenBalance(ctx context.Context, wallet, mint solana.PublicKey) (float64, error)
}

// OwnershipAPI is the indexed ownership-by-contract lookup. Optional: when
// absent or failing, the checker falls back to direct balance calls.
type OwnershipAPI interface {
	IsHolderOfContract(ctx context.Context, wallet, contract string) (bool, error)
}

// PoolSource adapts an adapter.EVMPool to the EVMSource interface
type PoolSource struct {
	Pool *adapter.EVMPool
}

// Supports implements EVMSource
func (s PoolSource) Supports(chain types.ChainID) bool { return s.Pool.Supports(chain) }

// Caller implements EVMSource
func (s PoolSource) Caller(chain types.ChainID) (ContractCaller, error) {
	return s.Pool.Client(chain)
}

// Checker performs cached, multi-chain entitlement checks
type Checker struct {
	collections  []models.Collection
	evm          EVMSource
	solana       SolanaBalances
	ownership    OwnershipAPI
	cache        *cache.TTL[string, *models.EntitlementResult]
	cacheTTL     time.Duration
	checkTimeout time.Duration
	logger       *logging.Logger
}

// CheckerConfig configures a Checker
type CheckerConfig struct {
	Collections  []models.Collection
	EVM          EVMSource
	Solana       SolanaBalances
	Ownership    OwnershipAPI
	CacheTTL     time.Duration
	CheckTimeout time.Duration
	Logger       *logging.Logger
}

// NewChecker creates an entitlement checker. Call Stop on shutdown to release
// the cache sweeper.
func NewChecker(cfg CheckerConfig) *Checker {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}
	return &Checker{
		collections:  cfg.Collections,
		evm:          cfg.EVM,
		solana:       cfg.Solana,
		ownership:    cfg.Ownership,
		cache:        cache.NewTTL[string, *models.EntitlementResult](time.Minute),
		cacheTTL:     cfg.CacheTTL,
		checkTimeout: cfg.CheckTimeout,
		logger:       cfg.Logger,
	}
}

// Stop releases the cache sweeper goroutine
func (c *Checker) Stop() {
	c.cache.Stop()
}

// Check resolves the wallet's entitlement. Results are cached by normalized
// wallet for the configured TTL; bypass forces a fresh check (the ledger
// always bypasses when computing credits, so a holder whose wallet changed
// hands since the last visit is priced correctly).
func (c *Checker) Check(ctx context.Context, wallet string, bypass bool) *models.EntitlementResult {
	key := normalizeWallet(wallet)

	if !bypass {
		if cached, ok := c.cache.Get(key); ok {
			return cached
		}
	}

	result := c.checkAllChains(ctx, wallet)
	c.cache.Set(key, result, c.cacheTTL)
	return result
}

// checkAllChains fans out one goroutine per chain, each fanning out one check
// per collection. Both levels settle all and discard failures.
func (c *Checker) checkAllChains(ctx context.Context, wallet string) *models.EntitlementResult {
	result := &models.EntitlementResult{
		Wallet:    normalizeWallet(wallet),
		CheckedAt: time.Now(),
	}

	byChain := make(map[types.ChainID][]models.Collection)
	for _, collection := range c.collections {
		if skipCollection(collection, wallet) {
			continue
		}
		byChain[collection.ChainID] = append(byChain[collection.ChainID], collection)
	}
	if len(byChain) == 0 {
		return result
	}

	var wg sync.WaitGroup
	ownedChan := make(chan string, len(c.collections))

	for chain, collections := range byChain {
		wg.Add(1)
		go func(chain types.ChainID, collections []models.Collection) {
			defer wg.Done()
			c.checkChain(ctx, chain, wallet, collections, ownedChan)
		}(chain, collections)
	}

	wg.Wait()
	close(ownedChan)

	for name := range ownedChan {
		result.OwnedCollections = append(result.OwnedCollections, name)
	}
	sort.Strings(result.OwnedCollections)
	result.IsHolder = len(result.OwnedCollections) > 0

	return result
}

// checkChain opens one provider connection for the chain and checks every
// collection on it concurrently
func (c *Checker) checkChain(ctx context.Context, chain types.ChainID, wallet string, collections []models.Collection, owned chan<- string) {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if chain == types.ChainSolana {
		c.checkSolanaCollections(ctx, wallet, collections, owned)
		return
	}

	if c.evm == nil || !c.evm.Supports(chain) {
		return
	}
	caller, err := c.evm.Caller(chain)
	if err != nil {
		c.logger.WithError(err).WithField("chain", chain).Warn("Entitlement check skipped chain")
		return
	}

	var wg sync.WaitGroup
	for _, collection := range collections {
		wg.Add(1)
		go func(collection models.Collection) {
			defer wg.Done()
			if c.checkEVMCollection(ctx, caller, wallet, collection) {
				owned <- collection.Name
			}
		}(collection)
	}
	wg.Wait()
}

// checkEVMCollection reports whether the wallet holds the collection. Errors
// degrade to "no holding found".
func (c *Checker) checkEVMCollection(ctx context.Context, caller ContractCaller, wallet string, collection models.Collection) bool {
	owner := common.HexToAddress(wallet)
	token := common.HexToAddress(collection.Address)

	if collection.MinBalance > 0 {
		// Minimum-balance fungible check: balance and decimals directly.
		balance, err := tokenBalanceOf(ctx, caller, token, owner)
		if err != nil {
			c.logger.WithError(err).WithField("collection", collection.Name).Debug("Balance check failed")
			return false
		}
		decimals, err := tokenDecimals(ctx, caller, token)
		if err != nil {
			c.logger.WithError(err).WithField("collection", collection.Name).Debug("Decimals check failed")
			return false
		}
		return normalizedBalance(balance, decimals) >= collection.MinBalance
	}

	// NFT ownership: prefer the indexed API over chain scanning, fall back
	// to a direct balance call when it is unavailable or failing.
	if c.ownership != nil {
		holds, err := c.ownership.IsHolderOfContract(ctx, wallet, collection.Address)
		if err == nil {
			return holds
		}
		c.logger.WithError(err).WithField("collection", collection.Name).Debug("Ownership API failed, falling back to balance call")
	}

	balance, err := tokenBalanceOf(ctx, caller, token, owner)
	if err != nil {
		c.logger.WithError(err).WithField("collection", collection.Name).Debug("Balance fallback failed")
		return false
	}
	return balance.Sign() > 0
}

func (c *Checker) checkSolanaCollections(ctx context.Context, wallet string, collections []models.Collection, owned chan<- string) {
	if c.solana == nil {
		return
	}
	walletKey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return
	}

	var wg sync.WaitGroup
	for _, collection := range collections {
		wg.Add(1)
		go func(collection models.Collection) {
			defer wg.Done()

			mint, err := solana.PublicKeyFromBase58(collection.Address)
			if err != nil {
				return
			}
			balance, err := c.solana.GetTokenBalance(ctx, walletKey, mint)
			if err != nil {
				c.logger.WithError(err).WithField("collection", collection.Name).Debug("Solana balance check failed")
				return
			}
			threshold := collection.MinBalance
			if threshold <= 0 {
				// NFT collections qualify on any strictly positive balance.
				if balance > 0 {
					owned <- collection.Name
				}
				return
			}
			if balance >= threshold {
				owned <- collection.Name
			}
		}(collection)
	}
	wg.Wait()
}

// skipCollection filters malformed wallets and cross-family pairs: an EVM
// collection cannot be held by a Solana wallet and vice versa
func skipCollection(collection models.Collection, wallet string) bool {
	if collection.ChainID == types.ChainSolana {
		return !adapter.ValidSolanaAddress(wallet) || !adapter.ValidSolanaAddress(collection.Address)
	}
	return !adapter.ValidEVMAddress(wallet) || !adapter.ValidEVMAddress(collection.Address)
}

func normalizeWallet(wallet string) string {
	wallet = strings.TrimSpace(wallet)
	if adapter.ValidEVMAddress(wallet) {
		return strings.ToLower(wallet)
	}
	return wallet
}
