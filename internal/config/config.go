package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rentchain/internal/chain/retry"
)

type Config struct {
	// Chain JSON-RPC endpoint URL
	RPCURL string

	// Hex-encoded private key of the custodial signer
	PrivateKey string

	// Postgres connection string; empty selects the in-memory store
	// (local development only)
	DatabaseURL string

	// Hex-encoded deploy bytecode of the RentalAgreement contract, or a path
	// to a file holding it
	ContractBytecode     string
	ContractBytecodeFile string

	// HTTP API port
	Port int

	// Log level ( debug / info / warn / error )
	LogLevel string

	// Upper bound on a single confirmation wait
	ConfirmTimeout time.Duration

	// How often the queue polls for a receipt
	ReceiptPollInterval time.Duration

	// Reconciliation sweep cadence and staleness threshold
	SweepInterval   time.Duration
	SweepStaleAfter time.Duration

	// Whether the sweep submits fee-bumped replacements for stuck transactions
	SweepReplaceEnabled bool

	// Gas limits for contract creation and method calls
	DeployGasLimit uint64
	CallGasLimit   uint64

	// Retry behavior for read-path RPC calls
	Retry retry.Config
}

// Load returns the service configuration from environment variables
func Load() *Config {
	return &Config{
		RPCURL:               os.Getenv("RPC_URL"),
		PrivateKey:           os.Getenv("PRIVATE_KEY"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ContractBytecode:     os.Getenv("CONTRACT_BYTECODE"),
		ContractBytecodeFile: os.Getenv("CONTRACT_BYTECODE_FILE"),
		Port:                 getEnvAsInt("PORT", 8080),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		ConfirmTimeout:       getEnvAsDuration("CONFIRM_TIMEOUT_SEC", 90),
		ReceiptPollInterval:  getEnvAsDuration("RECEIPT_POLL_INTERVAL_SEC", 2),
		SweepInterval:        getEnvAsDuration("SWEEP_INTERVAL_SEC", 60),
		SweepStaleAfter:      getEnvAsDuration("SWEEP_STALE_AFTER_SEC", 300),
		SweepReplaceEnabled:  getEnvAsBool("SWEEP_REPLACE_ENABLED", true),
		DeployGasLimit:       getEnvAsUint64("DEPLOY_GAS_LIMIT", 3_000_000),
		CallGasLimit:         getEnvAsUint64("CALL_GAS_LIMIT", 300_000),
		Retry:                retry.LoadConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if c.ContractBytecode == "" && c.ContractBytecodeFile == "" {
		return fmt.Errorf("CONTRACT_BYTECODE or CONTRACT_BYTECODE_FILE is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be a valid port number")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT_SEC must be positive")
	}
	return nil
}

// Bytecode resolves the agreement bytecode, reading the configured file when
// no inline hex is set
func (c *Config) Bytecode() (string, error) {
	if c.ContractBytecode != "" {
		return c.ContractBytecode, nil
	}
	data, err := os.ReadFile(c.ContractBytecodeFile)
	if err != nil {
		return "", fmt.Errorf("failed to read contract bytecode file: %w", err)
	}
	return string(data), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsUint64(key string, defaultVal uint64) uint64 {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseUint(valStr, 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsDuration(key string, defaultSec int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSec)) * time.Second
}
