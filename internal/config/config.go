package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
)

type Config struct {
	// RPC settings
	RPCUrl       string
	RPCWSUrl     string
	RPCTimeout   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Quote providers, in preference order
	Providers        []string
	JupiterBaseURL   string
	JupiterAPIKey    string
	RouteAPIBaseURL  string
	RouteAPIKey      string
	OrcaPoolsPath    string
	OrcaMaxImpactBps uint16
	QuoteRatePerSec  float64
	QuoteBurst       int
	QuoteHTTPTimeout time.Duration

	// Relay settings
	BlockEngineURL string
	FastRelayURL   string
	SubmitMode     string // fast | bundle
	PollInterval   time.Duration
	ConfirmTimeout time.Duration

	// Signing
	SignerURL        string
	WalletPrivateKey string

	// Transaction shaping
	ComputeUnitLimit      uint32
	ComputeUnitPrice      uint64
	DynamicPriorityFee    bool
	PriorityFeePercentile int
	TipLamports           uint64
	TipAccounts           []string
	NativeReserveLamports uint64

	// Orchestration
	MaxAttempts    int
	MaxLegs        int
	MaxSlippageBps uint16
	AllowedMints   []string

	DefaultSlippageBps uint16
	DailyNativeLimit   uint64
	ReconcileWait      time.Duration

	// Redis settings
	RedisAddr      string
	LookupTableTTL time.Duration

	// ClickHouse settings
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// API settings
	APIAddr      string
	APIKey       string
	DevMode      bool
	APIExecRate  float64
	APIExecBurst int
	LogLevel     string
}

func Load() *Config {
	return &Config{
		// RPC
		RPCUrl:       getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		RPCWSUrl:     getEnv("SOLANA_WS_URL", ""),
		RPCTimeout:   getDurationEnv("RPC_TIMEOUT", 30*time.Second),
		MaxRetries:   getIntEnv("MAX_RETRIES", 3),
		RetryBackoff: getDurationEnv("RETRY_BACKOFF", 500*time.Millisecond),

		// Providers
		Providers:        getListEnv("QUOTE_PROVIDERS", []string{"jupiter", "routeapi"}),
		JupiterBaseURL:   getEnv("JUPITER_BASE_URL", "https://api.jup.ag/swap/v1"),
		JupiterAPIKey:    getEnv("JUPITER_API_KEY", ""),
		RouteAPIBaseURL:  getEnv("ROUTEAPI_BASE_URL", ""),
		RouteAPIKey:      getEnv("ROUTEAPI_API_KEY", ""),
		OrcaPoolsPath:    getEnv("ORCA_POOLS_PATH", ""),
		OrcaMaxImpactBps: uint16(getUintEnv("ORCA_MAX_PRICE_IMPACT_BPS", 300)),
		QuoteRatePerSec:  getFloatEnv("QUOTE_RATE_PER_SEC", 5),
		QuoteBurst:       getIntEnv("QUOTE_BURST", 5),
		QuoteHTTPTimeout: getDurationEnv("QUOTE_HTTP_TIMEOUT", 12*time.Second),

		// Relay
		BlockEngineURL: getEnv("BLOCK_ENGINE_URL", "https://mainnet.block-engine.jito.wtf/api/v1/bundles"),
		FastRelayURL:   getEnv("FAST_RELAY_URL", "https://mainnet.block-engine.jito.wtf/api/v1/transactions"),
		SubmitMode:     getEnv("SUBMIT_MODE", "fast"),
		PollInterval:   getDurationEnv("POLL_INTERVAL", constants.DefaultPollInterval),
		ConfirmTimeout: getDurationEnv("CONFIRM_TIMEOUT", constants.DefaultConfirmTimeout),

		// Signing
		SignerURL:        getEnv("SIGNER_URL", ""),
		WalletPrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),

		// Transaction shaping
		ComputeUnitLimit:      uint32(getUintEnv("COMPUTE_UNIT_LIMIT", 0)),
		ComputeUnitPrice:      getUintEnv("COMPUTE_UNIT_PRICE", 0),
		DynamicPriorityFee:    getBoolEnv("DYNAMIC_PRIORITY_FEE", false),
		PriorityFeePercentile: getIntEnv("PRIORITY_FEE_PERCENTILE", 75),
		TipLamports:           getUintEnv("TIP_LAMPORTS", 0),
		TipAccounts:           getListEnv("TIP_ACCOUNTS", constants.DefaultTipAccounts),
		NativeReserveLamports: getUintEnv("NATIVE_RESERVE_LAMPORTS", constants.DefaultNativeReserveLamports),

		// Orchestration
		MaxAttempts:    getIntEnv("EXEC_MAX_ATTEMPTS", 3),
		MaxLegs:        getIntEnv("EXEC_MAX_LEGS", 8),
		MaxSlippageBps: uint16(getUintEnv("EXEC_MAX_SLIPPAGE_BPS", 1000)),
		AllowedMints:   getListEnv("EXEC_ALLOWED_MINTS", nil),

		DefaultSlippageBps: uint16(getUintEnv("EXEC_DEFAULT_SLIPPAGE_BPS", 50)),
		DailyNativeLimit:   getUintEnv("EXEC_DAILY_NATIVE_LIMIT", 0),
		ReconcileWait:      getDurationEnv("RECONCILE_WAIT", 90*time.Second),

		// Redis
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		LookupTableTTL: getDurationEnv("LOOKUP_TABLE_TTL", 24*time.Hour),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "solana"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// API
		APIAddr:      getEnv("API_ADDR", ":8090"),
		APIKey:       getEnv("API_KEY", ""),
		DevMode:      getBoolEnv("DEV_MODE", false),
		APIExecRate:  getFloatEnv("API_EXEC_RATE_PER_SEC", 0.5),
		APIExecBurst: getIntEnv("API_EXEC_BURST", 2),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.RPCUrl) == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	if c.SubmitMode != "fast" && c.SubmitMode != "bundle" {
		errs = append(errs, fmt.Errorf("SUBMIT_MODE must be fast or bundle, got %q", c.SubmitMode))
	}
	if c.SubmitMode == "bundle" && c.BlockEngineURL == "" {
		errs = append(errs, fmt.Errorf("BLOCK_ENGINE_URL is required in bundle mode"))
	}
	if c.SubmitMode == "fast" && c.FastRelayURL == "" {
		errs = append(errs, fmt.Errorf("FAST_RELAY_URL is required in fast mode"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("EXEC_MAX_ATTEMPTS must be >= 1"))
	}
	if c.MaxLegs < 1 {
		errs = append(errs, fmt.Errorf("EXEC_MAX_LEGS must be >= 1"))
	}
	if c.MaxSlippageBps > 10000 {
		errs = append(errs, fmt.Errorf("EXEC_MAX_SLIPPAGE_BPS must be <= 10000"))
	}
	if c.PollInterval <= 0 || c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL and CONFIRM_TIMEOUT must be positive"))
	}
	if c.PollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must not exceed CONFIRM_TIMEOUT"))
	}
	if c.TipLamports > 0 && len(c.TipAccounts) == 0 {
		errs = append(errs, fmt.Errorf("TIP_ACCOUNTS is required when TIP_LAMPORTS > 0"))
	}
	if c.PriorityFeePercentile < 0 || c.PriorityFeePercentile > 100 {
		errs = append(errs, fmt.Errorf("PRIORITY_FEE_PERCENTILE must be within 0..100"))
	}
	if len(c.Providers) == 0 {
		errs = append(errs, fmt.Errorf("QUOTE_PROVIDERS must list at least one provider"))
	}
	for _, p := range c.Providers {
		switch p {
		case "jupiter":
		case "routeapi":
			if c.RouteAPIBaseURL == "" {
				errs = append(errs, fmt.Errorf("ROUTEAPI_BASE_URL is required when routeapi is enabled"))
			}
		case "orca":
			if c.OrcaPoolsPath == "" {
				errs = append(errs, fmt.Errorf("ORCA_POOLS_PATH is required when orca is enabled"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown quote provider %q", p))
		}
	}

	return errors.Join(errs...)
}

// ExecutionBudget bounds one execution: every round may wait out confirmation and
// reconciliation, plus the one extra round a total quote failure can earn.
func (c *Config) ExecutionBudget() time.Duration {
	return time.Duration(c.MaxAttempts+1) * (c.ConfirmTimeout + c.ReconcileWait + c.QuoteHTTPTimeout)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getUintEnv(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getListEnv splits a comma separated value, ignoring blanks.
func getListEnv(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
