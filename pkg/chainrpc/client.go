// Package chainrpc provides a client for the chain's JSON-RPC node: view
// queries against contracts and change-method calls issued by the platform
// signer account.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxfolio/engine/pkg/circuitbreaker"
	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/metrics"
)

const (
	// defaultGas is attached to every change-method call
	defaultGas = "300000000000000"
	// defaultDeposit is attached to every change-method call
	defaultDeposit = "0"
)

var (
	// ErrNodeUnavailable is returned on transport-level failure
	ErrNodeUnavailable = errors.New("chain node unreachable")
	// ErrCircuitOpen is returned when the node's circuit breaker is tripped
	ErrCircuitOpen = errors.New("chain node circuit breaker open")
	// ErrCallFailed is returned when a change-method call yields no success value
	ErrCallFailed = errors.New("contract call failed")
)

// Client represents a chain node JSON-RPC client
type Client struct {
	endpoint          string
	signerID          string
	verifyingContract string
	httpClient        *http.Client
	breaker           *circuitbreaker.CircuitBreaker
	logger            logger.Logger
}

// New creates a chain node client. The breaker may be nil when no circuit
// protection is wanted (tests).
func New(endpoint, signerID, verifyingContract string, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint:          endpoint,
		signerID:          signerID,
		verifyingContract: verifyingContract,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: breaker,
		logger:  log,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// post sends a JSON-RPC request and returns the raw result field
func (c *Client) post(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.breaker != nil && c.breaker.IsOpen() {
		metrics.NodeCalls.WithLabelValues(method, "circuit_open").Inc()
		return nil, ErrCircuitOpen
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "dontcare",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(method)
		return nil, fmt.Errorf("%w: %v", ErrNodeUnavailable, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Error("Failed to close node response body: %v", err)
		}
	}(resp.Body)

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure(method)
		return nil, fmt.Errorf("%w: read response: %v", ErrNodeUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.recordFailure(method)
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrNodeUnavailable, resp.StatusCode, string(respBytes))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %v", method, err)
	}
	if len(rpcResp.Error) > 0 {
		c.recordFailure(method)
		return nil, fmt.Errorf("node %s error: %s", method, string(rpcResp.Error))
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	metrics.NodeCalls.WithLabelValues(method, "success").Inc()
	return rpcResp.Result, nil
}

func (c *Client) recordFailure(method string) {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
	metrics.NodeCalls.WithLabelValues(method, "failed").Inc()
}

// viewResult carries the function result as an array of byte values
type viewResult struct {
	Result []int `json:"result"`
}

// ViewFunction executes a read-only contract function and returns the raw
// result bytes.
func (c *Client) ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) ([]byte, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal view args: %w", err)
	}

	result, err := c.post(ctx, "query", map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  methodName,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	})
	if err != nil {
		return nil, err
	}

	var view viewResult
	if err := json.Unmarshal(result, &view); err != nil {
		return nil, fmt.Errorf("decode view result: %w", err)
	}
	out := make([]byte, len(view.Result))
	for i, b := range view.Result {
		out[i] = byte(b)
	}
	return out, nil
}

type callOutcome struct {
	Status struct {
		SuccessValue *string `json:"SuccessValue,omitempty"`
	} `json:"status"`
}

// FunctionCall executes a change method as the platform signer and returns
// the UTF-8 decoded success value.
func (c *Client) FunctionCall(ctx context.Context, contractID, methodName string, args interface{}) ([]byte, error) {
	c.logger.Debug("Calling %s on contract %s", methodName, contractID)

	result, err := c.post(ctx, "call_function", map[string]interface{}{
		"signer_id":        c.signerID,
		"contract_id":      contractID,
		"method_name":      methodName,
		"args":             args,
		"gas":              defaultGas,
		"attached_deposit": defaultDeposit,
	})
	if err != nil {
		return nil, err
	}

	var outcome callOutcome
	if err := json.Unmarshal(result, &outcome); err != nil {
		return nil, fmt.Errorf("decode call outcome: %w", err)
	}
	if outcome.Status.SuccessValue == nil {
		return nil, fmt.Errorf("%w: %s.%s returned no success value", ErrCallFailed, contractID, methodName)
	}

	decoded, err := base64.StdEncoding.DecodeString(*outcome.Status.SuccessValue)
	if err != nil {
		return nil, fmt.Errorf("decode success value: %w", err)
	}
	return decoded, nil
}

// IsNonceUsed checks whether a nonce has been consumed by a signer on the
// verifying contract.
func (c *Client) IsNonceUsed(ctx context.Context, nonce, signerID string) (bool, error) {
	raw, err := c.ViewFunction(ctx, c.verifyingContract, "is_nonce_used", map[string]string{
		"nonce":      nonce,
		"account_id": signerID,
	})
	if err != nil {
		return false, err
	}
	var used bool
	if err := json.Unmarshal(raw, &used); err != nil {
		return false, fmt.Errorf("decode is_nonce_used result: %w", err)
	}
	return used, nil
}

// BatchBalances returns base-unit balances for each token id held by the
// account on the verifying contract. Tokens with no recorded balance come
// back as "0".
func (c *Client) BatchBalances(ctx context.Context, accountID string, tokenIDs []string) ([]string, error) {
	raw, err := c.ViewFunction(ctx, c.verifyingContract, "mt_batch_balance_of", map[string]interface{}{
		"account_id": accountID,
		"token_ids":  tokenIDs,
	})
	if err != nil {
		return nil, err
	}

	var balances []string
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	if len(balances) != len(tokenIDs) {
		return nil, fmt.Errorf("balance count %d does not match %d token ids", len(balances), len(tokenIDs))
	}
	for i, b := range balances {
		if b == "" {
			balances[i] = "0"
		}
	}
	return balances, nil
}
