package intents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/models"
)

// DefaultDeadline is the minimum forward validity window for an intent
const DefaultDeadline = 120 * time.Second

// ErrQuoteMismatch is returned when the quote set does not line up with the
// requested target allocations.
var ErrQuoteMismatch = errors.New("quotes do not match target allocations")

// Builder constructs intent payloads ready for signing. The canonical JSON
// serialization is produced exactly once and carried alongside the payload;
// the signer must use those bytes verbatim.
type Builder struct {
	checker           NonceChecker
	verifyingContract string
	logger            logger.Logger
}

// NewBuilder creates an intent builder bound to a verifying contract
func NewBuilder(checker NonceChecker, verifyingContract string, log logger.Logger) *Builder {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Builder{
		checker:           checker,
		verifyingContract: verifyingContract,
		logger:            log,
	}
}

// SwapRequest describes a basket swap: one quote per target allocation.
// Each quote is matched to its target by asset identifier, not position.
type SwapRequest struct {
	SignerID      string
	SourceAssetID string
	// TotalAmountIn, when set, is cross-checked against the sum of the
	// quotes' input amounts (base units).
	TotalAmountIn string
	Quotes        []models.Quote
	Targets       []models.Allocation
	// Deadline in RFC3339; defaulted when empty.
	Deadline string
}

// WithdrawRequest describes a swap that settles to an external address
type WithdrawRequest struct {
	SignerID        string
	SourceAssetID   string
	Quote           models.Quote
	WithdrawAddress string
	Deadline        string
}

// BuiltIntent is the output of the builder: the payload, its canonical
// serialized form, and the quote hashes to publish alongside it.
type BuiltIntent struct {
	Payload     models.IntentPayload
	Message     []byte
	QuoteHashes []string
}

// BuildSwapIntents emits one token_diff leg per quote, each pairing a
// negative input delta with the quoted output amount.
func (b *Builder) BuildSwapIntents(ctx context.Context, req SwapRequest) (*BuiltIntent, error) {
	if len(req.Quotes) == 0 {
		return nil, fmt.Errorf("%w: no quotes", ErrQuoteMismatch)
	}
	if len(req.Quotes) != len(req.Targets) {
		return nil, fmt.Errorf("%w: %d quotes for %d targets", ErrQuoteMismatch, len(req.Quotes), len(req.Targets))
	}

	// Index targets by asset so quote order cannot silently mismatch
	targets := make(map[string]models.Allocation, len(req.Targets))
	for _, target := range req.Targets {
		targets[target.AssetID] = target
	}

	legs := make([]json.RawMessage, 0, len(req.Quotes))
	quoteHashes := make([]string, 0, len(req.Quotes))
	totalIn := new(big.Int)

	for _, quote := range req.Quotes {
		if quote.AssetIDIn != req.SourceAssetID {
			return nil, fmt.Errorf("%w: quote input asset %s, expected %s", ErrQuoteMismatch, quote.AssetIDIn, req.SourceAssetID)
		}
		if _, ok := targets[quote.AssetIDOut]; !ok {
			return nil, fmt.Errorf("%w: no target allocation for %s", ErrQuoteMismatch, quote.AssetIDOut)
		}

		amountIn, ok := new(big.Int).SetString(quote.AmountIn, 10)
		if !ok || amountIn.Sign() <= 0 {
			return nil, fmt.Errorf("invalid quote amount_in %q", quote.AmountIn)
		}
		totalIn.Add(totalIn, amountIn)

		leg, err := json.Marshal(models.TokenDiff{
			Intent: "token_diff",
			Diff: map[string]string{
				quote.AssetIDIn:  "-" + quote.AmountIn,
				quote.AssetIDOut: quote.AmountOut,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal token_diff: %w", err)
		}
		legs = append(legs, leg)
		quoteHashes = append(quoteHashes, quote.QuoteHash)
	}

	if req.TotalAmountIn != "" {
		want, ok := new(big.Int).SetString(req.TotalAmountIn, 10)
		if !ok {
			return nil, fmt.Errorf("invalid total amount %q", req.TotalAmountIn)
		}
		if totalIn.Cmp(want) != 0 {
			return nil, fmt.Errorf("%w: quotes allocate %s of %s", ErrQuoteMismatch, totalIn, want)
		}
	}

	return b.finalize(ctx, req.SignerID, req.Deadline, legs, quoteHashes)
}

// BuildWithdrawIntent emits a single-quote swap leg followed by an
// ft_withdraw settling the output to an external address.
func (b *Builder) BuildWithdrawIntent(ctx context.Context, req WithdrawRequest) (*BuiltIntent, error) {
	quote := req.Quote
	if quote.AssetIDIn != req.SourceAssetID {
		return nil, fmt.Errorf("%w: quote input asset %s, expected %s", ErrQuoteMismatch, quote.AssetIDIn, req.SourceAssetID)
	}
	if req.WithdrawAddress == "" {
		return nil, fmt.Errorf("withdraw address is required")
	}

	swapLeg, err := json.Marshal(models.TokenDiff{
		Intent: "token_diff",
		Diff: map[string]string{
			quote.AssetIDIn:  "-" + quote.AmountIn,
			quote.AssetIDOut: quote.AmountOut,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token_diff: %w", err)
	}

	// PoA token withdrawals use the bare token account, without the nep141 prefix
	tokenAddress := strings.TrimPrefix(quote.AssetIDOut, "nep141:")

	withdrawLeg, err := json.Marshal(models.FtWithdraw{
		Intent:     "ft_withdraw",
		Token:      tokenAddress,
		ReceiverID: tokenAddress,
		Amount:     quote.AmountOut,
		Memo:       "WITHDRAW_TO:" + req.WithdrawAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ft_withdraw: %w", err)
	}

	legs := []json.RawMessage{swapLeg, withdrawLeg}
	return b.finalize(ctx, req.SignerID, req.Deadline, legs, []string{quote.QuoteHash})
}

// finalize draws a fresh nonce, assembles the payload and serializes it once
func (b *Builder) finalize(ctx context.Context, signerID, deadline string, legs []json.RawMessage, quoteHashes []string) (*BuiltIntent, error) {
	nonce, err := GenerateNonce(ctx, b.checker, signerID)
	if err != nil {
		return nil, err
	}

	if deadline == "" {
		deadline = time.Now().Add(DefaultDeadline).UTC().Format(time.RFC3339)
	}

	payload := models.IntentPayload{
		SignerID:          signerID,
		VerifyingContract: b.verifyingContract,
		Deadline:          deadline,
		Nonce:             nonce,
		Intents:           legs,
	}

	message, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal intent payload: %w", err)
	}

	b.logger.Debug("Built intent payload for signer %s with %d legs", signerID, len(legs))

	return &BuiltIntent{
		Payload:     payload,
		Message:     message,
		QuoteHashes: quoteHashes,
	}, nil
}
