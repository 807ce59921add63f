package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fluxfolio/engine/pkg/logger"
)

const (
	// DefaultRelayEndpoint defines the default solver relay JSON-RPC endpoint
	DefaultRelayEndpoint = "https://solver-relay-v2.chaindefuser.com/rpc"

	// DefaultNodeRPCURL defines the default chain node JSON-RPC endpoint
	DefaultNodeRPCURL = "https://rpc.mainnet.near.org"

	// DefaultVerifyingContract defines the contract intents are verified against
	DefaultVerifyingContract = "intents.near"

	// DefaultWithdrawChain defines the chain withdrawals settle to
	DefaultWithdrawChain = "eth:8453"

	// DefaultWithdrawToken defines the bridged token withdrawals are swapped into
	DefaultWithdrawToken = "nep141:eth.omft.near"

	// DefaultReserveAsset defines the portfolio reserve asset rebalances draw from
	DefaultReserveAsset = "nep141:wrap.near"

	// DefaultWorkerCount defines the default number of workers to process jobs
	DefaultWorkerCount = 5

	// DefaultQueueSize defines the default job queue capacity
	DefaultQueueSize = 100

	// DefaultAPIPort defines the default port for the public API server
	DefaultAPIPort = "8000"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultMaxRetries defines the maximum number of retries for failed operations
	DefaultMaxRetries = 3

	// DefaultFinalizePollBase defines the base settlement polling delay in seconds
	DefaultFinalizePollBase = 1

	// DefaultFinalizeAttempts defines the settlement polling attempt cap
	DefaultFinalizeAttempts = 8

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15
)

// GetEnvRelayEndpoint returns the solver relay endpoint from environment variables
func GetEnvRelayEndpoint() (string, error) {
	relayEndpoint := os.Getenv("RELAY_ENDPOINT")
	if relayEndpoint == "" {
		return DefaultRelayEndpoint, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(relayEndpoint); err != nil {
		return "", fmt.Errorf("invalid RELAY_ENDPOINT value: %s, must be a valid URL", relayEndpoint)
	}
	return relayEndpoint, nil
}

// GetEnvNodeRPCURL returns the chain node endpoint from environment variables
func GetEnvNodeRPCURL() (string, error) {
	nodeRPCURL := os.Getenv("NODE_RPC_URL")
	if nodeRPCURL == "" {
		return DefaultNodeRPCURL, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(nodeRPCURL); err != nil {
		return "", fmt.Errorf("invalid NODE_RPC_URL value: %s, must be a valid URL", nodeRPCURL)
	}
	return nodeRPCURL, nil
}

// GetEnvVerifyingContract returns the verifying contract account from environment variables
func GetEnvVerifyingContract() string {
	verifyingContract := os.Getenv("VERIFYING_CONTRACT")
	if verifyingContract == "" {
		return DefaultVerifyingContract
	}
	return verifyingContract
}

// GetEnvWithdrawChain returns the withdrawal settlement chain from environment variables
func GetEnvWithdrawChain() string {
	withdrawChain := os.Getenv("WITHDRAW_CHAIN")
	if withdrawChain == "" {
		return DefaultWithdrawChain
	}
	return withdrawChain
}

// GetEnvWithdrawToken returns the withdrawal settlement token from environment variables
func GetEnvWithdrawToken() string {
	withdrawToken := os.Getenv("WITHDRAW_TOKEN")
	if withdrawToken == "" {
		return DefaultWithdrawToken
	}
	return withdrawToken
}

// GetEnvReserveAsset returns the portfolio reserve asset from environment variables
func GetEnvReserveAsset() string {
	reserveAsset := os.Getenv("RESERVE_ASSET")
	if reserveAsset == "" {
		return DefaultReserveAsset
	}
	return reserveAsset
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	// use atoi
	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvQueueSize returns the job queue capacity from environment variables
func GetEnvQueueSize() (int, error) {
	queueSize := os.Getenv("QUEUE_SIZE")
	if queueSize == "" {
		return DefaultQueueSize, nil
	}

	size, err := strconv.Atoi(queueSize)
	if err != nil {
		return 0, fmt.Errorf("invalid QUEUE_SIZE value: %s, must be an integer", queueSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("QUEUE_SIZE must be greater than 0")
	}
	return size, nil
}

// GetEnvAPIPort returns the public API server port from environment variables
func GetEnvAPIPort() (string, error) {
	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		return DefaultAPIPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(apiPort); err != nil {
		return "", fmt.Errorf("invalid API_PORT value: %s, must be a valid integer", apiPort)
	}
	return apiPort, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvFinalizePollBase returns the settlement polling base delay from environment variables
func GetEnvFinalizePollBase() (time.Duration, error) {
	pollBase := os.Getenv("FINALIZE_POLL_BASE")
	if pollBase == "" {
		return DefaultFinalizePollBase * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(pollBase)
	if err != nil {
		return 0, fmt.Errorf("invalid FINALIZE_POLL_BASE value: %s, must be a valid duration string", pollBase)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("FINALIZE_POLL_BASE must be greater than 0")
	}
	return parsed, nil
}

// GetEnvFinalizeAttempts returns the settlement polling attempt cap from environment variables
func GetEnvFinalizeAttempts() (int, error) {
	attempts := os.Getenv("FINALIZE_ATTEMPTS")
	if attempts == "" {
		return DefaultFinalizeAttempts, nil
	}

	attemptsInt, err := strconv.Atoi(attempts)
	if err != nil {
		return 0, fmt.Errorf("invalid FINALIZE_ATTEMPTS value: %s, must be an integer", attempts)
	}
	if attemptsInt <= 0 {
		return 0, fmt.Errorf("FINALIZE_ATTEMPTS must be greater than 0")
	}
	return attemptsInt, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch level {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return false, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}
