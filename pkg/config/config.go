package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/fluxfolio/engine/pkg/logger"
)

// Config holds the configuration for the orchestration engine
type Config struct {
	RelayEndpoint     string
	NodeRPCURL        string
	VerifyingContract string
	ProxyContract     string
	PlatformAccountID string
	SigningKey        string
	WithdrawChain     string
	WithdrawToken     string
	ReserveAsset      string
	RedisAddr         string
	WorkerCount       int
	QueueSize         int
	APIPort           string
	MetricsPort       string
	MaxRetries        int
	FinalizePollBase  time.Duration
	FinalizeAttempts  int
	CircuitBreaker    CircuitBreakerConfig
	LoggerConfig      LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	relayEndpoint, err := GetEnvRelayEndpoint()
	if err != nil {
		return nil, err
	}

	nodeRPCURL, err := GetEnvNodeRPCURL()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	queueSize, err := GetEnvQueueSize()
	if err != nil {
		return nil, err
	}

	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	pollBase, err := GetEnvFinalizePollBase()
	if err != nil {
		return nil, err
	}

	pollAttempts, err := GetEnvFinalizeAttempts()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RelayEndpoint:     relayEndpoint,
		NodeRPCURL:        nodeRPCURL,
		VerifyingContract: GetEnvVerifyingContract(),
		ProxyContract:     os.Getenv("PROXY_CONTRACT"),
		PlatformAccountID: os.Getenv("PLATFORM_ACCOUNT_ID"),
		SigningKey:        os.Getenv("SIGNING_KEY"),
		WithdrawChain:     GetEnvWithdrawChain(),
		WithdrawToken:     GetEnvWithdrawToken(),
		ReserveAsset:      GetEnvReserveAsset(),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		WorkerCount:       workerCount,
		QueueSize:         queueSize,
		APIPort:           apiPort,
		MetricsPort:       metricsPort,
		MaxRetries:        maxRetries,
		FinalizePollBase:  pollBase,
		FinalizeAttempts:  pollAttempts,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.SigningKey == "" {
		return fmt.Errorf("SIGNING_KEY environment variable is required")
	}
	if cfg.PlatformAccountID == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT_ID environment variable is required")
	}
	if cfg.VerifyingContract == "" {
		return fmt.Errorf("VERIFYING_CONTRACT must not be empty")
	}
	return nil
}
