// Package config provides configuration management for the payment ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/payment-ledger/internal/models"
	"github.com/payment-ledger/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Chains      ChainsConfig
	Payment     PaymentConfig
	Rates       RatesConfig
	Entitlement EntitlementConfig
	Dedup       DedupConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MinConnections int
}

// RedisConfig holds Redis configuration. Enabled=false keeps the dedup guard
// process-local.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// ClickHouseConfig holds the analytics archive configuration. Optional.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// ChainsConfig holds per-chain RPC endpoints
type ChainsConfig struct {
	// EVM maps chain id to an ordered endpoint list (primary first; the rest
	// are failover alternates).
	EVM map[types.ChainID][]string
	// SolanaEndpoints is the probe list for the Solana verifier.
	SolanaEndpoints []string
}

// PaymentConfig pins the receiving wallets and accepted token per rail
type PaymentConfig struct {
	// EVMWallet receives on-chain EVM payments
	EVMWallet string
	// EVMTokenContract is the accepted stablecoin contract per EVM chain
	EVMTokenContract map[types.ChainID]string
	// SolanaWallet receives Solana payments
	SolanaWallet string
	// SolanaTokenMint is the accepted stablecoin mint
	SolanaTokenMint string
	// MaxTxAge bounds how old an accepted Solana transaction may be
	MaxTxAge time.Duration
	// AmountTolerance is the permitted relative deviation between the
	// claimed and on-chain Solana amount
	AmountTolerance float64
	// CallTimeout is the per-RPC-call timeout
	CallTimeout time.Duration
}

// RatesConfig holds the canonical rate table knobs
type RatesConfig struct {
	BaseCreditsPerUnit float64
	NFTMultiplier      float64
	CardHolderBonus    int64
}

// EntitlementConfig holds the qualifying collections and cache policy
type EntitlementConfig struct {
	Collections  []models.Collection
	CacheTTL     time.Duration
	CheckTimeout time.Duration
	// OwnershipAPIBase is the indexed ownership API; empty falls back to
	// direct balance calls
	OwnershipAPIBase string
	OwnershipAPIKey  string
}

// DedupConfig holds the advisory duplicate-submission guard policy
type DedupConfig struct {
	Window   time.Duration
	Capacity int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "payment_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MinConnections: getEnvAsInt("POSTGRES_MIN_CONNECTIONS", 2),
			},
			Redis: RedisConfig{
				Enabled:  getEnvAsBool("REDIS_ENABLED", false),
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnv("REDIS_PORT", "6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "payment_ledger"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
		},
		Payment: PaymentConfig{
			EVMWallet:        getEnv("PAYMENT_EVM_WALLET", ""),
			EVMTokenContract: loadTokenContracts(),
			SolanaWallet:     getEnv("PAYMENT_SOLANA_WALLET", ""),
			SolanaTokenMint:  getEnv("PAYMENT_SOLANA_TOKEN_MINT", ""),
			MaxTxAge:         getEnvAsDuration("PAYMENT_MAX_TX_AGE", time.Hour),
			AmountTolerance:  getEnvAsFloat("PAYMENT_AMOUNT_TOLERANCE", 0.01),
			CallTimeout:      getEnvAsDuration("PAYMENT_CALL_TIMEOUT", 10*time.Second),
		},
		Rates: RatesConfig{
			BaseCreditsPerUnit: getEnvAsFloat("RATE_BASE_CREDITS_PER_UNIT", 5),
			NFTMultiplier:      getEnvAsFloat("RATE_NFT_MULTIPLIER", 1.2),
			CardHolderBonus:    int64(getEnvAsInt("RATE_CARD_HOLDER_BONUS", 25)),
		},
		Entitlement: EntitlementConfig{
			Collections:      loadCollections(),
			CacheTTL:         getEnvAsDuration("ENTITLEMENT_CACHE_TTL", 5*time.Minute),
			CheckTimeout:     getEnvAsDuration("ENTITLEMENT_CHECK_TIMEOUT", 10*time.Second),
			OwnershipAPIBase: getEnv("OWNERSHIP_API_BASE", ""),
			OwnershipAPIKey:  getEnv("OWNERSHIP_API_KEY", ""),
		},
		Dedup: DedupConfig{
			Window:   getEnvAsDuration("DEDUP_WINDOW", 30*time.Second),
			Capacity: getEnvAsInt("DEDUP_CAPACITY", 1024),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads RPC endpoint lists per enabled chain
func loadChainConfigs() ChainsConfig {
	enabled := strings.Split(getEnv("ENABLED_EVM_CHAINS", "ethereum,polygon,base"), ",")

	evm := make(map[types.ChainID][]string)
	for _, chain := range enabled {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}
		prefix := strings.ToUpper(chain)
		endpoints := splitList(getEnv(prefix+"_RPC_ENDPOINTS", ""))
		if len(endpoints) == 0 {
			continue
		}
		evm[types.ChainID(chain)] = endpoints
	}

	return ChainsConfig{
		EVM:             evm,
		SolanaEndpoints: splitList(getEnv("SOLANA_RPC_ENDPOINTS", "")),
	}
}

// loadTokenContracts reads the accepted stablecoin contract per EVM chain.
// Format: TOKEN_CONTRACTS="ethereum=0x...,polygon=0x..."
func loadTokenContracts() map[types.ChainID]string {
	contracts := make(map[types.ChainID]string)
	for _, pair := range splitList(getEnv("TOKEN_CONTRACTS", "")) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		contracts[types.ChainID(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return contracts
}

// loadCollections reads qualifying collections.
// Format: QUALIFYING_COLLECTIONS="name:chain:address[:minBalance];..."
func loadCollections() []models.Collection {
	var collections []models.Collection
	for _, raw := range strings.Split(getEnv("QUALIFYING_COLLECTIONS", ""), ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 3 {
			continue
		}
		c := models.Collection{
			Name:    strings.TrimSpace(parts[0]),
			ChainID: types.ChainID(strings.TrimSpace(parts[1])),
			Address: strings.TrimSpace(parts[2]),
		}
		if len(parts) > 3 {
			if min, err := strconv.ParseFloat(parts[3], 64); err == nil {
				c.MinBalance = min
			}
		}
		collections = append(collections, c)
	}
	return collections
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
