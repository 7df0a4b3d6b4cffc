// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage (Postgres wins over bolt, in-memory when neither is set)
	DatabaseURL string
	BoltPath    string

	// Network selection
	NetworkName       string // name or chain id, see networks.go
	NetworkConfigFile string // optional YAML/TOML override of the network table
	Network           Network

	// Chain access (public networks)
	RPCURL        string
	PrivateKey    string // Hex-encoded, with or without 0x prefix
	RaffleAddress string // Deployed Raffle contract

	// Automation
	KeeperInterval time.Duration
	UpkeepGasLimit uint64
	FulfillDelay   time.Duration
	FulfillPoll    time.Duration
	VRFFundAmount  string // LINK (ether units) funded into dev subscriptions

	// Payout audit on dev chains; only meaningful with ledger payouts
	ReconcileInterval time.Duration

	// Notifications
	WebhookURLs   []string
	WebhookSecret string

	// Observability
	OTLPEndpoint string

	// Payouts on dev chains: "ledger" credits winners, "wallet" sends ETH
	Payout string

	// Security
	AdminSecret  string
	CORSOrigins  []string
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultNetwork        = "hardhat"
	DefaultKeeperInterval = 5 * time.Second
	DefaultUpkeepGasLimit = 500000
	DefaultFulfillDelay   = 2 * time.Second
	DefaultFulfillPoll    = time.Second
	DefaultVRFFundAmount  = "1"
	DefaultReconcile      = 5 * time.Minute
	DefaultPayout         = PayoutLedger
	DefaultRateLimitRPM   = 120
)

// Payout modes.
const (
	PayoutLedger = "ledger"
	PayoutWallet = "wallet"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BoltPath:          os.Getenv("BOLT_PATH"),
		NetworkName:       getEnv("NETWORK", DefaultNetwork),
		NetworkConfigFile: os.Getenv("NETWORK_CONFIG_FILE"),
		RPCURL:            os.Getenv("RPC_URL"),
		PrivateKey:        os.Getenv("PRIVATE_KEY"),
		RaffleAddress:     os.Getenv("RAFFLE_ADDRESS"),
		KeeperInterval:    getEnvDuration("KEEPER_INTERVAL", DefaultKeeperInterval),
		UpkeepGasLimit:    uint64(getEnvInt64("UPKEEP_GAS_LIMIT", DefaultUpkeepGasLimit)),
		FulfillDelay:      getEnvDuration("FULFILL_DELAY", DefaultFulfillDelay),
		FulfillPoll:       getEnvDuration("FULFILL_POLL", DefaultFulfillPoll),
		VRFFundAmount:     getEnv("VRF_FUND_AMOUNT", DefaultVRFFundAmount),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcile),
		WebhookURLs:       splitList(os.Getenv("WEBHOOK_URLS")),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Payout:            getEnv("PAYOUT", DefaultPayout),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
	}

	nets, err := LoadNetworks(cfg.NetworkConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Network, err = nets.Lookup(cfg.NetworkName)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network %s: %w", c.Network.Name, err)
	}

	if c.PrivateKey != "" {
		key := strings.TrimPrefix(c.PrivateKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	// Public networks are driven through the deployed contract.
	if !c.Network.IsDevelopment() {
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required on network %s", c.Network.Name)
		}
		if !common.IsHexAddress(c.RaffleAddress) {
			return fmt.Errorf("RAFFLE_ADDRESS is required on network %s", c.Network.Name)
		}
	}

	if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}

	switch c.Payout {
	case "", PayoutLedger:
	case PayoutWallet:
		if c.PrivateKey == "" || c.RPCURL == "" {
			return fmt.Errorf("PAYOUT=wallet requires PRIVATE_KEY and RPC_URL")
		}
	default:
		return fmt.Errorf("PAYOUT must be %q or %q, got %q", PayoutLedger, PayoutWallet, c.Payout)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}

	if c.UpkeepGasLimit == 0 {
		return fmt.Errorf("UPKEEP_GAS_LIMIT must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
