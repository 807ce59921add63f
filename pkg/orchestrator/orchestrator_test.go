package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfolio/engine/pkg/intents"
	"github.com/fluxfolio/engine/pkg/jobstore"
	"github.com/fluxfolio/engine/pkg/models"
	"github.com/fluxfolio/engine/pkg/relay"
	"github.com/fluxfolio/engine/pkg/signing"
	"github.com/fluxfolio/engine/pkg/users"
)

type freshNonces struct{}

func (freshNonces) IsNonceUsed(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// fakeRelay answers quote, publish and finalize calls with canned data and
// can fail the first N publishes to exercise in-step retries.
type fakeRelay struct {
	publishFailures int
	publishCalls    int
	quoteCalls      []relay.QuoteParams
	finalizeStatus  string
}

func (r *fakeRelay) FetchQuote(_ context.Context, params relay.QuoteParams) ([]models.Quote, error) {
	r.quoteCalls = append(r.quoteCalls, params)
	return []models.Quote{{
		AmountIn:   params.ExactAmountIn,
		AmountOut:  "999",
		AssetIDIn:  params.AssetIDIn,
		AssetIDOut: params.AssetIDOut,
		QuoteHash:  "qh-" + params.AssetIDOut,
	}}, nil
}

func (r *fakeRelay) PublishIntent(_ context.Context, _ *models.SignedEnvelope, _ []string) (string, error) {
	r.publishCalls++
	if r.publishCalls <= r.publishFailures {
		return "", relay.ErrRelayUnavailable
	}
	return "intent-1", nil
}

func (r *fakeRelay) FinalizeIntent(_ context.Context, intentHash string) (*relay.Finalization, error) {
	status := r.finalizeStatus
	if status == "" {
		status = relay.StatusFinalized
	}
	return &relay.Finalization{
		Finalized: status == relay.StatusFinalized,
		Status:    status,
		Hash:      intentHash,
	}, nil
}

func (r *fakeRelay) FetchDepositAddress(_ context.Context, _, _ string) (string, error) {
	return "0xdeposit", nil
}

// fakeCaller records proxy contract calls and answers each method with a
// canned success value.
type fakeCaller struct {
	calls []contractCallRecord
}

type contractCallRecord struct {
	contractID string
	method     string
	args       interface{}
}

func (c *fakeCaller) FunctionCall(_ context.Context, contractID, methodName string, args interface{}) ([]byte, error) {
	c.calls = append(c.calls, contractCallRecord{contractID: contractID, method: methodName, args: args})
	switch methodName {
	case "add_user_portfolio":
		return []byte(`"portfolio-onchain-1"`), nil
	case "balance_portfolio":
		return []byte(`[{"big_r":{"affine_point":"02` + strings.Repeat("ab", 32) +
			`"},"s":{"scalar":"` + strings.Repeat("cd", 32) + `"},"recovery_id":1}]`), nil
	default:
		return nil, nil
	}
}

// fakeNode serves balances from a fixed map
type fakeNode struct {
	balances map[string]string
}

func (n *fakeNode) BatchBalances(_ context.Context, _ string, tokenIDs []string) ([]string, error) {
	out := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		balance, ok := n.balances[id]
		if !ok {
			balance = "0"
		}
		out[i] = balance
	}
	return out, nil
}

type testEnv struct {
	service *Service
	store   jobstore.Store
	users   users.Store
	relay   *fakeRelay
	node    *fakeNode
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := jobstore.NewMemoryStore()
	userStore := users.NewMemoryStore()
	relayClient := &fakeRelay{}
	node := &fakeNode{balances: make(map[string]string)}
	builder := intents.NewBuilder(freshNonces{}, "intents.near", nil)

	service := NewService(store, userStore, builder, relayClient, node, nil, Options{
		WorkerCount:   1,
		QueueSize:     4,
		MaxRetries:    2,
		WithdrawChain: "eth:8453",
		WithdrawToken: "nep141:eth.omft.near",
		ReserveAsset:  "nep141:wrap.near",
	}, nil)

	return &testEnv{
		service: service,
		store:   store,
		users:   userStore,
		relay:   relayClient,
		node:    node,
	}
}

// enableProxy routes contract calls through caller as if a proxy contract
// were configured
func (e *testEnv) enableProxy(caller MPCCaller) {
	e.service.caller = caller
	e.service.opts.ProxyContract = "proxy.fluxfolio.near"
}

// seedUser creates a user with a live portfolio and a usable signing key
func (e *testEnv) seedUser(t *testing.T, username string) *models.User {
	t.Helper()
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	signer, err := signing.NewLocalSigner(keyPair.SecretKey)
	require.NoError(t, err)

	user := &models.User{
		ID:             "user-" + username,
		Username:       username,
		SudoKey:        keyPair.SecretKey,
		IntentsAddress: signer.SignerID(),
		DepositAddress: "0xdeposit",
		PortfolioID:    "portfolio-" + username,
	}
	require.NoError(t, e.users.Save(context.Background(), user))
	return user
}

// runJob creates the job record and dispatches it synchronously
func (e *testEnv) runJob(t *testing.T, payload models.JobPayload) (string, error) {
	t.Helper()
	ctx := context.Background()
	jobID, err := e.store.CreateJob(ctx, payload.JobType(), StepsFor(payload.JobType()), "owner-1")
	require.NoError(t, err)
	return jobID, e.service.dispatch(ctx, task{jobID: jobID, jobType: payload.JobType(), payload: payload})
}

func (e *testEnv) job(t *testing.T, jobID string) *models.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestStepsFor(t *testing.T) {
	assert.Equal(t, []string{StepApproveFunds, StepSwapToBundle, StepUpdatePortfolio}, StepsFor(models.JobBuyBundle))
	assert.Equal(t, []string{StepAddingPortfolio}, StepsFor(models.JobCreatePortfolio))
	assert.Nil(t, StepsFor(models.JobType("mystery")))
}

func TestCreatePortfolioJob(t *testing.T) {
	env := newTestEnv(t)

	jobID, err := env.runJob(t, models.CreatePortfolioPayload{Username: "alice"})
	require.NoError(t, err)

	job := env.job(t, jobID)
	assert.True(t, job.Successful())

	user, err := env.users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, user.HasPortfolio())
	assert.Equal(t, "0xdeposit", user.DepositAddress)

	var result map[string]string
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, user.PortfolioID, result["portfolioId"])
	assert.Equal(t, "0xdeposit", result["depositAddress"])
}

func TestCreatePortfolioAlreadyExists(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")

	jobID, err := env.runJob(t, models.CreatePortfolioPayload{Username: "alice"})
	require.Error(t, err)

	job := env.job(t, jobID)
	assert.True(t, job.Complete())
	assert.False(t, job.Successful())
}

func buyBundlePayload(user *models.User) models.BuyBundlePayload {
	return models.BuyBundlePayload{
		Username: user.Username,
		BundleID: "bundle-1",
		Amount:   "1000000",
		Quotes: []models.Quote{
			{
				AmountIn:   "600000",
				AmountOut:  "150000000000000000",
				AssetIDIn:  "nep141:usdc.near",
				AssetIDOut: "nep141:eth.omft.near",
				QuoteHash:  "hash-eth",
			},
			{
				AmountIn:   "400000",
				AmountOut:  "90000000",
				AssetIDIn:  "nep141:usdc.near",
				AssetIDOut: "nep141:btc.omft.near",
				QuoteHash:  "hash-btc",
			},
		},
		Targets: []models.Allocation{
			{AssetID: "nep141:eth.omft.near", Percentage: 60, Decimals: 18},
			{AssetID: "nep141:btc.omft.near", Percentage: 40, Decimals: 8},
		},
	}
}

func TestBuyBundleJob(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice")
	env.node.balances["nep141:usdc.near"] = "2000000"

	jobID, err := env.runJob(t, buyBundlePayload(user))
	require.NoError(t, err)

	job := env.job(t, jobID)
	require.True(t, job.Successful())
	assert.Contains(t, job.FindStep(StepSwapToBundle).Message, "intent-1")

	saved, err := env.users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 60.0, saved.Allocations["nep141:eth.omft.near"])
	assert.Equal(t, 40.0, saved.Allocations["nep141:btc.omft.near"])

	var result map[string]string
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, "intent-1", result["intentHash"])
}

func TestBuyBundleInsufficientBalanceHaltsJob(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice")
	env.node.balances["nep141:usdc.near"] = "100"

	jobID, err := env.runJob(t, buyBundlePayload(user))
	require.Error(t, err)

	job := env.job(t, jobID)
	assert.True(t, job.Complete())
	assert.False(t, job.Successful())

	// The failed step halts the job: later steps never leave pending
	assert.Equal(t, models.StepFailed, job.FindStep(StepApproveFunds).Status)
	assert.Contains(t, job.FindStep(StepApproveFunds).Message, "insufficient")
	assert.Equal(t, models.StepPending, job.FindStep(StepSwapToBundle).Status)
	assert.Equal(t, models.StepPending, job.FindStep(StepUpdatePortfolio).Status)

	// Nothing was published
	assert.Equal(t, 0, env.relay.publishCalls)
}

func TestBuyBundleRetriesTransientPublish(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice")
	env.node.balances["nep141:usdc.near"] = "2000000"
	env.relay.publishFailures = 1

	jobID, err := env.runJob(t, buyBundlePayload(user))
	require.NoError(t, err)

	assert.True(t, env.job(t, jobID).Successful())
	assert.Equal(t, 2, env.relay.publishCalls)
}

func TestRebalanceJob(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.node.balances["nep141:wrap.near"] = "1000000"

	jobID, err := env.runJob(t, models.RebalancePayload{
		Username: "alice",
		Allocations: []models.Allocation{
			{AssetID: "nep141:eth.omft.near", Percentage: 70, Decimals: 18},
			{AssetID: "nep141:btc.omft.near", Percentage: 30, Decimals: 8},
		},
	})
	require.NoError(t, err)

	job := env.job(t, jobID)
	require.True(t, job.Successful())

	// One quote per target, sized off the reserve balance
	require.Len(t, env.relay.quoteCalls, 2)
	assert.Equal(t, "700000", env.relay.quoteCalls[0].ExactAmountIn)
	assert.Equal(t, "300000", env.relay.quoteCalls[1].ExactAmountIn)

	saved, err := env.users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 70.0, saved.Allocations["nep141:eth.omft.near"])
}

func TestRebalanceWithoutReserveFails(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")

	jobID, err := env.runJob(t, models.RebalancePayload{
		Username:    "alice",
		Allocations: []models.Allocation{{AssetID: "nep141:eth.omft.near", Percentage: 100}},
	})
	require.Error(t, err)

	job := env.job(t, jobID)
	assert.Equal(t, models.StepFailed, job.FindStep(StepPrepareRebalance).Status)
	assert.Equal(t, models.StepPending, job.FindStep(StepExecuteRebalance).Status)
}

func TestWithdrawJob(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.node.balances["nep141:eth.omft.near"] = "500000000000000000"

	jobID, err := env.runJob(t, models.WithdrawPayload{
		Username:  "alice",
		Asset:     "nep141:eth.omft.near",
		Amount:    "300000000000000000",
		Decimals:  18,
		ToAddress: "0xdest",
	})
	require.NoError(t, err)

	job := env.job(t, jobID)
	require.True(t, job.Successful())
	// Amounts surface in display units, not base units
	assert.Equal(t, "Withdrew 0.3 to 0xdest", job.FindStep(StepInitiateWithdraw).Message)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.node.balances["nep141:eth.omft.near"] = "100"

	jobID, err := env.runJob(t, models.WithdrawPayload{
		Username:  "alice",
		Asset:     "nep141:eth.omft.near",
		Amount:    "300000000000000000",
		Decimals:  18,
		ToAddress: "0xdest",
	})
	require.Error(t, err)

	job := env.job(t, jobID)
	assert.Equal(t, models.StepFailed, job.FindStep(StepCheckBalance).Status)
	assert.Equal(t, models.StepPending, job.FindStep(StepInitiateWithdraw).Status)
}

func TestAssignAgentJob(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")

	jobID, err := env.runJob(t, models.AssignAgentPayload{Username: "alice", AgentID: "agent-7"})
	require.NoError(t, err)

	assert.True(t, env.job(t, jobID).Successful())

	saved, err := env.users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", saved.AgentID)
}

func TestAssignAgentWithoutPortfolio(t *testing.T) {
	env := newTestEnv(t)

	jobID, err := env.runJob(t, models.AssignAgentPayload{Username: "ghost", AgentID: "agent-7"})
	require.Error(t, err)

	job := env.job(t, jobID)
	assert.Equal(t, models.StepFailed, job.FindStep(StepValidateAgent).Status)
	assert.Equal(t, models.StepPending, job.FindStep(StepLinkAgent).Status)
}

func TestCreatePortfolioUsesOnChainID(t *testing.T) {
	env := newTestEnv(t)
	caller := &fakeCaller{}
	env.enableProxy(caller)

	jobID, err := env.runJob(t, models.CreatePortfolioPayload{Username: "alice"})
	require.NoError(t, err)
	require.True(t, env.job(t, jobID).Successful())

	user, err := env.users.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "portfolio-onchain-1", user.PortfolioID)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "add_user_portfolio", caller.calls[0].method)
	assert.Equal(t, "proxy.fluxfolio.near", caller.calls[0].contractID)
	args := caller.calls[0].args.(map[string]string)
	assert.Equal(t, user.ID, args["user_id"])
	assert.NotEmpty(t, args["sudo_pubkey"])
}

func TestBuyBundleSignsThroughProxy(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice")
	env.node.balances["nep141:usdc.near"] = "2000000"
	caller := &fakeCaller{}
	env.enableProxy(caller)

	jobID, err := env.runJob(t, buyBundlePayload(user))
	require.NoError(t, err)
	require.True(t, env.job(t, jobID).Successful())

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "balance_portfolio", caller.calls[0].method)
	args := caller.calls[0].args.(map[string]interface{})
	assert.Equal(t, user.PortfolioID, args["user_portfolio"])
}

func TestWithdrawValidatesOnChain(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.node.balances["nep141:eth.omft.near"] = "500000000000000000"
	caller := &fakeCaller{}
	env.enableProxy(caller)

	jobID, err := env.runJob(t, models.WithdrawPayload{
		Username:  "alice",
		Asset:     "nep141:eth.omft.near",
		Amount:    "300000000000000000",
		Decimals:  18,
		ToAddress: "0xdest",
	})
	require.NoError(t, err)
	require.True(t, env.job(t, jobID).Successful())

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "withdraw_funds", caller.calls[0].method)
	args := caller.calls[0].args.(map[string]interface{})
	assert.NotEmpty(t, args["withdrawal_data"])
	assert.NotEmpty(t, args["signature"])
}

func TestAssignAgentLinksOnChain(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice")
	caller := &fakeCaller{}
	env.enableProxy(caller)

	jobID, err := env.runJob(t, models.AssignAgentPayload{Username: "alice", AgentID: "agent-7"})
	require.NoError(t, err)
	require.True(t, env.job(t, jobID).Successful())

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "assign_portfolio_agent", caller.calls[0].method)
	args := caller.calls[0].args.(map[string]interface{})
	assert.Equal(t, "agent-7", args["agent_id"])

	var proof agentLink
	require.NoError(t, json.Unmarshal(args["portfolio_data"].(json.RawMessage), &proof))
	assert.Equal(t, user.PortfolioID, proof.PortfolioID)
	assert.NotZero(t, proof.Nonce)
}

func TestSubmitQueueFull(t *testing.T) {
	env := newTestEnv(t)
	// Workers never started, so the queue only drains by capacity
	for i := 0; i < 4; i++ {
		_, err := env.service.Submit(context.Background(), "owner-1", models.AssignAgentPayload{Username: "alice", AgentID: "a"})
		require.NoError(t, err)
	}

	_, err := env.service.Submit(context.Background(), "owner-1", models.AssignAgentPayload{Username: "alice", AgentID: "a"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitAndWorkerEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.service.Start(ctx)

	jobID, err := env.service.Submit(ctx, "owner-1", models.AssignAgentPayload{Username: "alice", AgentID: "agent-7"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := env.store.GetJob(ctx, jobID)
		return err == nil && job.Complete()
	}, 5*time.Second, 10*time.Millisecond)

	env.service.Stop()
	assert.True(t, env.job(t, jobID).Successful())
}
