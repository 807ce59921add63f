// Package relay provides a client for the solver relay's JSON-RPC API:
// quoting, intent publication and settlement status polling.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/metrics"
	"github.com/fluxfolio/engine/pkg/models"
)

const (
	// StatusFinalized is the relay's terminal success status
	StatusFinalized = "finalized"
	// StatusNotFound is the relay's terminal failure status
	StatusNotFound = "NOT_FOUND_OR_NOT_VALID_ANYMORE"
)

var (
	// ErrRelayUnavailable is returned on transport-level failure
	ErrRelayUnavailable = errors.New("solver relay unreachable")
	// ErrFinalizationTimeout is returned when polling exhausts its attempts
	// before observing a terminal status.
	ErrFinalizationTimeout = errors.New("intent finalization timed out")
)

// Client represents a solver relay client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger

	// finalization polling knobs
	pollBase    time.Duration
	maxAttempts int
}

// New creates a new solver relay client
func New(endpoint string, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint:    endpoint,
		httpClient:  createHTTPClient(),
		logger:      log,
		pollBase:    time.Second,
		maxAttempts: 8,
	}
}

// SetPolling overrides the finalization backoff base and attempt cap
func (c *Client) SetPolling(base time.Duration, maxAttempts int) {
	c.pollBase = base
	c.maxAttempts = maxAttempts
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call posts a JSON-RPC request and decodes the result field
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "dontcare",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Error("Failed to close relay response body: %v", err)
		}
	}(resp.Body)

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrRelayUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d, body: %s", ErrRelayUnavailable, resp.StatusCode, string(respBytes))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %v, body: %s", method, err, string(respBytes))
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("relay %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %v", method, err)
		}
	}
	return nil
}

// QuoteParams describes a quote request for a single asset pair
type QuoteParams struct {
	AssetIDIn     string `json:"defuse_asset_identifier_in"`
	AssetIDOut    string `json:"defuse_asset_identifier_out"`
	ExactAmountIn string `json:"exact_amount_in"`
	MinDeadlineMs int64  `json:"min_deadline_ms"`
}

// FetchQuote requests quotes for an asset pair and exact input amount
func (c *Client) FetchQuote(ctx context.Context, params QuoteParams) ([]models.Quote, error) {
	if params.MinDeadlineMs == 0 {
		params.MinDeadlineMs = 120000
	}
	c.logger.Debug("Fetching quote %s -> %s for %s", params.AssetIDIn, params.AssetIDOut, params.ExactAmountIn)

	var quotes []models.Quote
	if err := c.call(ctx, "quote", []QuoteParams{params}, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

type publishParams struct {
	QuoteHashes []string              `json:"quote_hashes"`
	SignedData  models.SignedEnvelope `json:"signed_data"`
}

type publishResult struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	IntentHash string `json:"intent_hash"`
}

// PublishIntent submits a signed envelope with its quote hashes and returns
// the relay's intent hash. Transport failures surface as
// ErrRelayUnavailable; the caller decides whether to retry.
func (c *Client) PublishIntent(ctx context.Context, envelope *models.SignedEnvelope, quoteHashes []string) (string, error) {
	var result publishResult
	err := c.call(ctx, "publish_intent", []publishParams{{
		QuoteHashes: quoteHashes,
		SignedData:  *envelope,
	}}, &result)
	if err != nil {
		return "", err
	}
	if result.Status == "FAILED" {
		return "", fmt.Errorf("relay rejected intent: %s", result.Reason)
	}
	metrics.IntentsPublished.Inc()
	c.logger.Info("Published intent %s", result.IntentHash)
	return result.IntentHash, nil
}

// IntentStatus represents a single settlement status observation
type IntentStatus struct {
	Status string          `json:"status"`
	Hash   string          `json:"intent_hash"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type statusParams struct {
	IntentHash string `json:"intent_hash"`
}

// GetIntentStatus performs a single status query for an intent
func (c *Client) GetIntentStatus(ctx context.Context, intentHash string) (*IntentStatus, error) {
	var status IntentStatus
	if err := c.call(ctx, "get_status", []statusParams{{IntentHash: intentHash}}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Finalization is the outcome of polling an intent to a terminal status
type Finalization struct {
	Finalized bool
	Status    string
	Hash      string
}

// FinalizeIntent polls the intent status with exponential backoff until the
// relay reports a terminal status, the attempt budget runs out, or the
// context is cancelled.
func (c *Client) FinalizeIntent(ctx context.Context, intentHash string) (*Finalization, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		status, err := c.GetIntentStatus(ctx, intentHash)
		if err != nil {
			return nil, err
		}
		metrics.FinalizePolls.Inc()

		if status.Status == StatusFinalized || status.Status == StatusNotFound {
			c.logger.Info("Intent %s reached terminal status %s after %d polls", intentHash, status.Status, attempt+1)
			return &Finalization{
				Finalized: status.Status == StatusFinalized,
				Status:    status.Status,
				Hash:      status.Hash,
			}, nil
		}

		delay := c.pollBase * (1 << attempt)
		c.logger.Debug("Intent %s status %s, next poll in %v", intentHash, status.Status, delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrFinalizationTimeout, intentHash, c.maxAttempts)
}

type depositAddressParams struct {
	AccountID string `json:"account_id"`
	Chain     string `json:"chain"`
}

type depositAddressResult struct {
	Address string `json:"address"`
}

// FetchDepositAddress resolves the deposit address for an account on a chain
// (e.g. "eth:8453", "sol:mainnet", "btc:mainnet").
func (c *Client) FetchDepositAddress(ctx context.Context, accountID, chain string) (string, error) {
	var result depositAddressResult
	err := c.call(ctx, "deposit_address", []depositAddressParams{{
		AccountID: accountID,
		Chain:     chain,
	}}, &result)
	if err != nil {
		return "", err
	}
	return result.Address, nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
