// Package orchestrator runs jobs to completion: it owns the worker pool, the
// per-type step sequences, and the halt-on-failure rule that stops a job at
// its first failed step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxfolio/engine/pkg/intents"
	"github.com/fluxfolio/engine/pkg/jobstore"
	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/metrics"
	"github.com/fluxfolio/engine/pkg/models"
	"github.com/fluxfolio/engine/pkg/relay"
	"github.com/fluxfolio/engine/pkg/users"
)

// ErrUnknownJobType is returned when a payload names a type with no handler
var ErrUnknownJobType = errors.New("unknown job type")

// ErrQueueFull is returned when the job queue has no capacity left
var ErrQueueFull = errors.New("job queue full")

// RelayAPI is the slice of the solver relay client the orchestrator needs
type RelayAPI interface {
	FetchQuote(ctx context.Context, params relay.QuoteParams) ([]models.Quote, error)
	PublishIntent(ctx context.Context, envelope *models.SignedEnvelope, quoteHashes []string) (string, error)
	FinalizeIntent(ctx context.Context, intentHash string) (*relay.Finalization, error)
	FetchDepositAddress(ctx context.Context, accountID, chain string) (string, error)
}

// NodeAPI is the slice of the chain node client the orchestrator needs
type NodeAPI interface {
	BatchBalances(ctx context.Context, accountID string, tokenIDs []string) ([]string, error)
}

// Options carries the tuning knobs for a Service
type Options struct {
	WorkerCount   int
	QueueSize     int
	MaxRetries    int
	WithdrawChain string
	WithdrawToken string
	ReserveAsset  string
	// ProxyContract, when set, routes rebalance signing through the MPC
	// proxy contract instead of the user's local key.
	ProxyContract string
}

// task pairs a persisted job with the payload that created it
type task struct {
	jobID   string
	jobType models.JobType
	payload models.JobPayload
}

// Service dispatches jobs to a pool of workers
type Service struct {
	store   jobstore.Store
	users   users.Store
	builder *intents.Builder
	relay   RelayAPI
	node    NodeAPI
	caller  MPCCaller
	opts    Options
	logger  logger.Logger

	queue chan task
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewService creates an orchestrator. The MPC caller may be nil when no
// proxy contract is configured.
func NewService(
	store jobstore.Store,
	userStore users.Store,
	builder *intents.Builder,
	relayClient RelayAPI,
	node NodeAPI,
	caller MPCCaller,
	opts Options,
	log logger.Logger,
) *Service {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	return &Service{
		store:   store,
		users:   userStore,
		builder: builder,
		relay:   relayClient,
		node:    node,
		caller:  caller,
		opts:    opts,
		logger:  log,
		queue:   make(chan task, opts.QueueSize),
	}
}

// Start launches the worker pool. It returns immediately; workers run until
// Stop is called or the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("Started %d job workers (queue capacity %d)", s.opts.WorkerCount, s.opts.QueueSize)
}

// Stop shuts the pool down and waits for in-flight jobs to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("All job workers stopped")
}

// Submit persists a new job for the payload and queues it for execution.
// The returned job id can be polled immediately; the work itself happens on
// a worker goroutine.
func (s *Service) Submit(ctx context.Context, ownerID string, payload models.JobPayload) (string, error) {
	jobType := payload.JobType()
	steps := StepsFor(jobType)
	if steps == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	jobID, err := s.store.CreateJob(ctx, jobType, steps, ownerID)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	select {
	case s.queue <- task{jobID: jobID, jobType: jobType, payload: payload}:
		metrics.QueueDepth.Set(float64(len(s.queue)))
		metrics.JobsStarted.WithLabelValues(string(jobType)).Inc()
		return jobID, nil
	default:
		// The job record stays behind with all steps pending; the caller
		// sees the queue-full error and can resubmit.
		return "", ErrQueueFull
	}
}

// worker drains the queue until shutdown
func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	s.logger.Debug("Worker %d started", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker %d shutting down", id)
			return
		case t, ok := <-s.queue:
			if !ok {
				s.logger.Debug("Worker %d shutting down: queue closed", id)
				return
			}
			metrics.QueueDepth.Set(float64(len(s.queue)))
			s.runJob(ctx, t)
		}
	}
}

// runJob executes a job's handler and records the outcome
func (s *Service) runJob(ctx context.Context, t task) {
	s.logger.InfoWithJob(t.jobType, "Processing job %s", t.jobID)

	// Best effort: the run id is for cross-referencing logs, never a
	// reason to abort the job.
	runID := uuid.NewString()
	if err := s.store.AttachRunID(ctx, t.jobID, runID); err != nil {
		s.logger.ErrorWithJob(t.jobType, "Failed to attach run id to job %s: %v", t.jobID, err)
	}

	startTime := time.Now()
	err := s.dispatch(ctx, t)
	metrics.JobProcessingTime.WithLabelValues(string(t.jobType)).Observe(time.Since(startTime).Seconds())

	if err != nil {
		metrics.JobsFinished.WithLabelValues(string(t.jobType), "failed").Inc()
		s.logger.ErrorWithJob(t.jobType, "Job %s failed: %v", t.jobID, err)
		return
	}
	metrics.JobsFinished.WithLabelValues(string(t.jobType), "success").Inc()
	s.logger.InfoWithJob(t.jobType, "Job %s completed (run %s)", t.jobID, runID)
}

// dispatch routes a task to its type handler
func (s *Service) dispatch(ctx context.Context, t task) error {
	switch payload := t.payload.(type) {
	case models.CreatePortfolioPayload:
		return s.handleCreatePortfolio(ctx, t.jobID, payload)
	case models.BuyBundlePayload:
		return s.handleBuyBundle(ctx, t.jobID, payload)
	case models.RebalancePayload:
		return s.handleRebalance(ctx, t.jobID, payload)
	case models.WithdrawPayload:
		return s.handleWithdraw(ctx, t.jobID, payload)
	case models.AssignAgentPayload:
		return s.handleAssignAgent(ctx, t.jobID, payload)
	}
	return fmt.Errorf("%w: %T", ErrUnknownJobType, t.payload)
}
