package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfolio/engine/pkg/models"
)

// rpcServer fakes the relay: it decodes the JSON-RPC envelope and lets the
// test choose the result per method.
func rpcServer(t *testing.T, handle func(method string, params json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      string          `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "dontcare", req.ID)

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestFetchQuote(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "quote", method)

		var quoteParams []QuoteParams
		require.NoError(t, json.Unmarshal(params, &quoteParams))
		require.Len(t, quoteParams, 1)
		assert.Equal(t, "nep141:usdc.near", quoteParams[0].AssetIDIn)
		assert.Equal(t, int64(120000), quoteParams[0].MinDeadlineMs)

		return []models.Quote{{
			AmountIn:   "1000000",
			AmountOut:  "300000000000000000",
			AssetIDIn:  "nep141:usdc.near",
			AssetIDOut: "nep141:eth.omft.near",
			QuoteHash:  "qh",
		}}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	quotes, err := client.FetchQuote(context.Background(), QuoteParams{
		AssetIDIn:     "nep141:usdc.near",
		AssetIDOut:    "nep141:eth.omft.near",
		ExactAmountIn: "1000000",
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "qh", quotes[0].QuoteHash)
}

func TestPublishIntent(t *testing.T) {
	envelope := &models.SignedEnvelope{
		Standard:  "raw_ed25519",
		Payload:   `{"signer_id":"abc"}`,
		Signature: "ed25519:sig",
	}

	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "publish_intent", method)

		var published []publishParams
		require.NoError(t, json.Unmarshal(params, &published))
		require.Len(t, published, 1)
		assert.Equal(t, []string{"qh"}, published[0].QuoteHashes)
		// The payload must arrive exactly as signed
		assert.Equal(t, envelope.Payload, published[0].SignedData.Payload)

		return publishResult{Status: "OK", IntentHash: "intent-1"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	hash, err := client.PublishIntent(context.Background(), envelope, []string{"qh"})
	require.NoError(t, err)
	assert.Equal(t, "intent-1", hash)
}

func TestPublishIntentRejected(t *testing.T) {
	server := rpcServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return publishResult{Status: "FAILED", Reason: "expired quote"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	_, err := client.PublishIntent(context.Background(), &models.SignedEnvelope{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired quote")
}

func TestFinalizeIntent(t *testing.T) {
	polls := 0
	server := rpcServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "get_status", method)
		polls++
		status := "PENDING"
		if polls >= 3 {
			status = StatusFinalized
		}
		return IntentStatus{Status: status, Hash: "intent-1"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	client.SetPolling(time.Millisecond, 5)

	finalization, err := client.FinalizeIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.True(t, finalization.Finalized)
	assert.Equal(t, StatusFinalized, finalization.Status)
	assert.Equal(t, 3, polls)
}

func TestFinalizeIntentNotFound(t *testing.T) {
	server := rpcServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return IntentStatus{Status: StatusNotFound, Hash: "intent-1"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	client.SetPolling(time.Millisecond, 5)

	finalization, err := client.FinalizeIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.False(t, finalization.Finalized)
	assert.Equal(t, StatusNotFound, finalization.Status)
}

func TestFinalizeIntentTimeout(t *testing.T) {
	server := rpcServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return IntentStatus{Status: "PENDING", Hash: "intent-1"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	client.SetPolling(time.Millisecond, 3)

	_, err := client.FinalizeIntent(context.Background(), "intent-1")
	assert.ErrorIs(t, err, ErrFinalizationTimeout)
}

func TestFinalizeIntentCancelled(t *testing.T) {
	server := rpcServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return IntentStatus{Status: "PENDING", Hash: "intent-1"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	client.SetPolling(time.Minute, 5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.FinalizeIntent(ctx, "intent-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallRelayError(t *testing.T) {
	server := rpcServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "rate limited"}
	})
	defer server.Close()

	client := New(server.URL, nil)
	_, err := client.GetIntentStatus(context.Background(), "intent-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCallTransportError(t *testing.T) {
	client := New("http://127.0.0.1:1", nil)
	_, err := client.GetIntentStatus(context.Background(), "intent-1")
	assert.ErrorIs(t, err, ErrRelayUnavailable)
}

func TestFetchDepositAddress(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		assert.Equal(t, "deposit_address", method)

		var requests []depositAddressParams
		require.NoError(t, json.Unmarshal(params, &requests))
		require.Len(t, requests, 1)
		assert.Equal(t, "eth:8453", requests[0].Chain)

		return depositAddressResult{Address: "0xabc"}, nil
	})
	defer server.Close()

	client := New(server.URL, nil)
	address, err := client.FetchDepositAddress(context.Background(), "abc123", "eth:8453")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", address)
}
