package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluxfolio/engine/pkg/intents"
	"github.com/fluxfolio/engine/pkg/models"
	"github.com/fluxfolio/engine/pkg/relay"
	"github.com/fluxfolio/engine/pkg/signing"
	"github.com/fluxfolio/engine/pkg/users"
)

// MPCCaller submits change-method calls to the portfolio proxy contract,
// both MPC signature requests and portfolio bookkeeping calls.
type MPCCaller = signing.ContractCaller

// contractCall invokes a change method on the proxy contract. Returns
// (nil, nil) when no proxy contract is configured, which keeps local and
// test setups working without one.
func (s *Service) contractCall(ctx context.Context, methodName string, args interface{}) ([]byte, error) {
	if s.caller == nil || s.opts.ProxyContract == "" {
		return nil, nil
	}
	return s.caller.FunctionCall(ctx, s.opts.ProxyContract, methodName, args)
}

// handleCreatePortfolio provisions a custodial portfolio: a fresh keypair,
// a deposit address on the settlement chain, the on-chain portfolio record
// and the persisted user record.
func (s *Service) handleCreatePortfolio(ctx context.Context, jobID string, payload models.CreatePortfolioPayload) error {
	var (
		portfolioID    string
		depositAddress string
	)

	err := s.runStep(ctx, jobID, models.JobCreatePortfolio, StepAddingPortfolio, func(ctx context.Context) (string, error) {
		if existing, err := s.users.GetByUsername(ctx, payload.Username); err == nil && existing.HasPortfolio() {
			return "", fmt.Errorf("portfolio already exists for %s", payload.Username)
		}

		keyPair, err := signing.GenerateKeyPair()
		if err != nil {
			return "", err
		}
		signer, err := signing.NewLocalSigner(keyPair.SecretKey)
		if err != nil {
			return "", err
		}

		depositAddress, err = s.relay.FetchDepositAddress(ctx, signer.SignerID(), s.opts.WithdrawChain)
		if err != nil {
			return "", fmt.Errorf("fetch deposit address: %w", err)
		}

		userID := uuid.NewString()
		result, err := s.contractCall(ctx, "add_user_portfolio", map[string]string{
			"user_id":     userID,
			"sudo_pubkey": keyPair.PublicKey,
		})
		if err != nil {
			return "", fmt.Errorf("add_user_portfolio: %w", err)
		}
		if len(result) > 0 {
			portfolioID = strings.Trim(string(result), `"`)
		} else {
			portfolioID = uuid.NewString()
		}

		user := &models.User{
			ID:             userID,
			Username:       payload.Username,
			SudoKey:        keyPair.SecretKey,
			IntentsAddress: signer.SignerID(),
			DepositAddress: depositAddress,
			PortfolioID:    portfolioID,
		}
		if err := s.users.Save(ctx, user); err != nil {
			return "", fmt.Errorf("save user: %w", err)
		}
		return fmt.Sprintf("Portfolio %s ready", portfolioID), nil
	})
	if err != nil {
		return err
	}

	s.setReturnValue(ctx, jobID, models.JobCreatePortfolio, map[string]string{
		"portfolioId":    portfolioID,
		"depositAddress": depositAddress,
	})
	return nil
}

// handleBuyBundle checks funds, swaps the deposit into the bundle's assets
// through the solver relay, and records the resulting allocations.
func (s *Service) handleBuyBundle(ctx context.Context, jobID string, payload models.BuyBundlePayload) error {
	var (
		user        *models.User
		sourceAsset string
		intentHash  string
	)

	err := s.runStep(ctx, jobID, models.JobBuyBundle, StepApproveFunds, func(ctx context.Context) (string, error) {
		if len(payload.Quotes) == 0 {
			return "", fmt.Errorf("no quotes supplied for bundle %s", payload.BundleID)
		}

		var err error
		user, err = s.lookupPortfolio(ctx, payload.Username)
		if err != nil {
			return "", err
		}
		sourceAsset = payload.Quotes[0].AssetIDIn

		if err := s.checkBalance(ctx, user.IntentsAddress, sourceAsset, payload.Amount); err != nil {
			return "", err
		}
		return "", nil
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.JobBuyBundle, StepSwapToBundle, func(ctx context.Context) (string, error) {
		signer, err := s.portfolioSigner(user)
		if err != nil {
			return "", err
		}

		built, err := s.builder.BuildSwapIntents(ctx, intents.SwapRequest{
			SignerID:      signer.SignerID(),
			SourceAssetID: sourceAsset,
			TotalAmountIn: payload.Amount,
			Quotes:        payload.Quotes,
			Targets:       payload.Targets,
		})
		if err != nil {
			return "", err
		}

		intentHash, err = s.publishAndFinalize(ctx, signer, built)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Intent %s finalized", intentHash), nil
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.JobBuyBundle, StepUpdatePortfolio, func(ctx context.Context) (string, error) {
		user.Allocations = allocationMap(payload.Targets)
		if err := s.users.Save(ctx, user); err != nil {
			return "", fmt.Errorf("save user: %w", err)
		}
		return "", nil
	})
	if err != nil {
		return err
	}

	s.setReturnValue(ctx, jobID, models.JobBuyBundle, map[string]string{"intentHash": intentHash})
	return nil
}

// handleRebalance quotes the reserve asset against the new target
// allocations and executes the swap set as one intent.
func (s *Service) handleRebalance(ctx context.Context, jobID string, payload models.RebalancePayload) error {
	var (
		user       *models.User
		quotes     []models.Quote
		targets    []models.Allocation
		intentHash string
	)

	err := s.runStep(ctx, jobID, models.JobRebalance, StepPrepareRebalance, func(ctx context.Context) (string, error) {
		var err error
		user, err = s.lookupPortfolio(ctx, payload.Username)
		if err != nil {
			return "", err
		}

		balances, err := s.node.BatchBalances(ctx, user.IntentsAddress, []string{s.opts.ReserveAsset})
		if err != nil {
			return "", err
		}
		reserve, ok := new(big.Int).SetString(balances[0], 10)
		if !ok || reserve.Sign() <= 0 {
			return "", fmt.Errorf("no %s reserve to rebalance from", s.opts.ReserveAsset)
		}

		quotes = quotes[:0]
		targets = targets[:0]
		for _, target := range payload.Allocations {
			share := percentageShare(reserve, target.Percentage)
			if share.Sign() <= 0 {
				continue
			}

			fetched, err := s.relay.FetchQuote(ctx, relay.QuoteParams{
				AssetIDIn:     s.opts.ReserveAsset,
				AssetIDOut:    target.AssetID,
				ExactAmountIn: share.String(),
			})
			if err != nil {
				return "", fmt.Errorf("quote %s: %w", target.AssetID, err)
			}
			if len(fetched) == 0 {
				return "", fmt.Errorf("no quote available for %s", target.AssetID)
			}
			quotes = append(quotes, fetched[0])
			targets = append(targets, target)
		}
		if len(quotes) == 0 {
			return "", fmt.Errorf("no viable rebalance legs")
		}
		return fmt.Sprintf("Prepared %d swap legs", len(quotes)), nil
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.JobRebalance, StepExecuteRebalance, func(ctx context.Context) (string, error) {
		signer, err := signing.NewLocalSigner(user.SudoKey)
		if err != nil {
			return "", err
		}

		built, err := s.builder.BuildSwapIntents(ctx, intents.SwapRequest{
			SignerID:      signer.SignerID(),
			SourceAssetID: s.opts.ReserveAsset,
			Quotes:        quotes,
			Targets:       targets,
		})
		if err != nil {
			return "", err
		}

		intentHash, err = s.publishAndFinalize(ctx, signer, built)
		if err != nil {
			return "", err
		}

		user.Allocations = allocationMap(payload.Allocations)
		if err := s.users.Save(ctx, user); err != nil {
			return "", fmt.Errorf("save user: %w", err)
		}
		return fmt.Sprintf("Intent %s finalized", intentHash), nil
	})
	if err != nil {
		return err
	}

	s.setReturnValue(ctx, jobID, models.JobRebalance, map[string]string{"intentHash": intentHash})
	return nil
}

// handleWithdraw verifies the balance and settles the asset to an external
// address through a swap plus ft_withdraw intent.
func (s *Service) handleWithdraw(ctx context.Context, jobID string, payload models.WithdrawPayload) error {
	var (
		user       *models.User
		intentHash string
	)

	err := s.runStep(ctx, jobID, models.JobWithdraw, StepCheckBalance, func(ctx context.Context) (string, error) {
		var err error
		user, err = s.lookupPortfolio(ctx, payload.Username)
		if err != nil {
			return "", err
		}
		if err := s.checkBalance(ctx, user.IntentsAddress, payload.Asset, payload.Amount); err != nil {
			return "", err
		}
		return "", nil
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.JobWithdraw, StepInitiateWithdraw, func(ctx context.Context) (string, error) {
		fetched, err := s.relay.FetchQuote(ctx, relay.QuoteParams{
			AssetIDIn:     payload.Asset,
			AssetIDOut:    s.opts.WithdrawToken,
			ExactAmountIn: payload.Amount,
		})
		if err != nil {
			return "", fmt.Errorf("quote withdrawal: %w", err)
		}
		if len(fetched) == 0 {
			return "", fmt.Errorf("no quote available for %s", payload.Asset)
		}

		signer, err := signing.NewLocalSigner(user.SudoKey)
		if err != nil {
			return "", err
		}

		built, err := s.builder.BuildWithdrawIntent(ctx, intents.WithdrawRequest{
			SignerID:        signer.SignerID(),
			SourceAssetID:   payload.Asset,
			Quote:           fetched[0],
			WithdrawAddress: payload.ToAddress,
		})
		if err != nil {
			return "", err
		}

		envelope, err := signer.Sign(ctx, built.Message)
		if err != nil {
			return "", err
		}

		// The proxy contract validates the withdrawal before the relay sees it
		if _, err := s.contractCall(ctx, "withdraw_funds", map[string]interface{}{
			"withdrawal_data": json.RawMessage(built.Message),
			"signature":       envelope.Signature,
		}); err != nil {
			return "", fmt.Errorf("withdraw_funds: %w", err)
		}

		intentHash, err = s.settleEnvelope(ctx, envelope, built.QuoteHashes)
		if err != nil {
			return "", err
		}

		amount, _ := new(big.Int).SetString(payload.Amount, 10)
		display := payload.Amount
		if amount != nil {
			display = intents.FromBaseUnits(amount, payload.Decimals)
		}
		return fmt.Sprintf("Withdrew %s to %s", display, payload.ToAddress), nil
	})
	if err != nil {
		return err
	}

	s.setReturnValue(ctx, jobID, models.JobWithdraw, map[string]string{"intentHash": intentHash})
	return nil
}

// handleAssignAgent links a trading agent to the user's portfolio
func (s *Service) handleAssignAgent(ctx context.Context, jobID string, payload models.AssignAgentPayload) error {
	var user *models.User

	err := s.runStep(ctx, jobID, models.JobAssignAgent, StepValidateAgent, func(ctx context.Context) (string, error) {
		if payload.AgentID == "" {
			return "", fmt.Errorf("agent id is required")
		}
		var err error
		user, err = s.lookupPortfolio(ctx, payload.Username)
		return "", err
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.JobAssignAgent, StepLinkAgent, func(ctx context.Context) (string, error) {
		// Ownership proof: an ephemeral payload signed with the user's sudo key
		signer, err := signing.NewLocalSigner(user.SudoKey)
		if err != nil {
			return "", err
		}
		proof, err := json.Marshal(agentLink{
			OwnerPubkey: signer.SignerID(),
			Nonce:       time.Now().UnixMilli(),
			PortfolioID: user.PortfolioID,
		})
		if err != nil {
			return "", err
		}
		envelope, err := signer.Sign(ctx, proof)
		if err != nil {
			return "", err
		}

		if _, err := s.contractCall(ctx, "assign_portfolio_agent", map[string]interface{}{
			"portfolio_data": json.RawMessage(envelope.Payload),
			"signature":      envelope.Signature,
			"agent_id":       payload.AgentID,
		}); err != nil {
			return "", fmt.Errorf("assign_portfolio_agent: %w", err)
		}

		user.AgentID = payload.AgentID
		if err := s.users.Save(ctx, user); err != nil {
			return "", fmt.Errorf("save user: %w", err)
		}
		return fmt.Sprintf("Agent %s linked", payload.AgentID), nil
	})
	if err != nil {
		return err
	}

	s.setReturnValue(ctx, jobID, models.JobAssignAgent, map[string]string{"agentId": payload.AgentID})
	return nil
}

// lookupPortfolio resolves a username to a user with a live portfolio
func (s *Service) lookupPortfolio(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if err == users.ErrNotFound {
			return nil, fmt.Errorf("no portfolio for %s", username)
		}
		return nil, err
	}
	if !user.HasPortfolio() {
		return nil, fmt.Errorf("no portfolio for %s", username)
	}
	return user, nil
}

// checkBalance verifies the account holds at least amount base units of asset
func (s *Service) checkBalance(ctx context.Context, accountID, assetID, amount string) error {
	want, ok := new(big.Int).SetString(amount, 10)
	if !ok || want.Sign() <= 0 {
		return fmt.Errorf("invalid amount %q", amount)
	}

	balances, err := s.node.BatchBalances(ctx, accountID, []string{assetID})
	if err != nil {
		return err
	}
	have, ok := new(big.Int).SetString(balances[0], 10)
	if !ok {
		return fmt.Errorf("malformed balance %q for %s", balances[0], assetID)
	}
	if have.Cmp(want) < 0 {
		return fmt.Errorf("insufficient %s balance: have %s, need %s", assetID, have, want)
	}
	return nil
}

// publishAndFinalize signs the built payload, publishes it with its quote
// hashes and polls settlement to a terminal status.
func (s *Service) publishAndFinalize(ctx context.Context, signer signing.Signer, built *intents.BuiltIntent) (string, error) {
	envelope, err := signer.Sign(ctx, built.Message)
	if err != nil {
		return "", err
	}
	return s.settleEnvelope(ctx, envelope, built.QuoteHashes)
}

// settleEnvelope publishes a signed envelope and polls settlement to a
// terminal status.
func (s *Service) settleEnvelope(ctx context.Context, envelope *models.SignedEnvelope, quoteHashes []string) (string, error) {
	intentHash, err := s.relay.PublishIntent(ctx, envelope, quoteHashes)
	if err != nil {
		return "", err
	}

	finalization, err := s.relay.FinalizeIntent(ctx, intentHash)
	if err != nil {
		return "", err
	}
	if !finalization.Finalized {
		return "", fmt.Errorf("intent %s settled with status %s", intentHash, finalization.Status)
	}
	return intentHash, nil
}

// portfolioSigner signs bundle swaps through the MPC proxy contract when one
// is configured, falling back to the user's local sudo key otherwise.
func (s *Service) portfolioSigner(user *models.User) (signing.Signer, error) {
	if s.caller != nil && s.opts.ProxyContract != "" {
		return signing.NewMPCSigner(s.caller, s.opts.ProxyContract, user.PortfolioID, user.IntentsAddress, s.logger), nil
	}
	return signing.NewLocalSigner(user.SudoKey)
}

// agentLink is the ownership proof signed with the user's sudo key when
// linking a trading agent to a portfolio.
type agentLink struct {
	OwnerPubkey string `json:"owner_pubkey"`
	Nonce       int64  `json:"nonce"`
	PortfolioID string `json:"portfolio_id"`
}

// percentageShare computes amount * pct / 100 in integer math, truncating
func percentageShare(amount *big.Int, pct float64) *big.Int {
	scaled := big.NewInt(int64(math.Round(pct * 100)))
	share := new(big.Int).Mul(amount, scaled)
	return share.Div(share, big.NewInt(10000))
}

// allocationMap renders a target list as the persisted asset -> percent map
func allocationMap(targets []models.Allocation) map[string]float64 {
	out := make(map[string]float64, len(targets))
	for _, t := range targets {
		out[t.AssetID] = t.Percentage
	}
	return out
}

// setReturnValue stores the job's result payload, best effort
func (s *Service) setReturnValue(ctx context.Context, jobID string, jobType models.JobType, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.ErrorWithJob(jobType, "Failed to encode return value for job %s: %v", jobID, err)
		return
	}
	if err := s.store.SetReturnValue(ctx, jobID, raw); err != nil {
		s.logger.ErrorWithJob(jobType, "Failed to store return value for job %s: %v", jobID, err)
	}
}
