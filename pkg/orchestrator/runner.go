package orchestrator

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/fluxfolio/engine/pkg/chainrpc"
	"github.com/fluxfolio/engine/pkg/metrics"
	"github.com/fluxfolio/engine/pkg/models"
	"github.com/fluxfolio/engine/pkg/relay"
)

// stepFunc does the work of a single step and may return a message shown to
// polling clients alongside the completed status.
type stepFunc func(ctx context.Context) (string, error)

// runStep drives one step through in-progress to a terminal status. Transient
// errors are retried in place with exponential backoff before the step is
// marked failed. A failed step halts the job: the error propagates and the
// remaining steps stay pending.
func (s *Service) runStep(ctx context.Context, jobID string, jobType models.JobType, stepName string, fn stepFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.writeStatus(ctx, jobID, stepName, models.StepInProgress, ""); err != nil {
		return err
	}

	startTime := time.Now()
	message, err := s.withRetries(ctx, jobType, stepName, fn)
	metrics.StepDuration.WithLabelValues(string(jobType), stepName).Observe(time.Since(startTime).Seconds())

	if err != nil {
		errorType := classifyError(err)
		metrics.StepFailures.WithLabelValues(string(jobType), stepName, errorType).Inc()
		s.logger.ErrorWithJob(jobType, "Step %q failed (%s): %v", stepName, errorType, err)

		if writeErr := s.writeStatus(ctx, jobID, stepName, models.StepFailed, err.Error()); writeErr != nil {
			s.logger.ErrorWithJob(jobType, "Failed to record failure of step %q: %v", stepName, writeErr)
		}
		return err
	}

	return s.writeStatus(ctx, jobID, stepName, models.StepCompleted, message)
}

// withRetries runs the step function, retrying transient failures with
// exponential backoff up to the configured cap.
func (s *Service) withRetries(ctx context.Context, jobType models.JobType, stepName string, fn stepFunc) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		message, err := fn(ctx)
		if err == nil {
			return message, nil
		}
		lastErr = err

		if !isTransient(err) || attempt >= s.opts.MaxRetries {
			return "", lastErr
		}

		metrics.StepRetries.WithLabelValues(string(jobType), stepName).Inc()
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		s.logger.DebugWithJob(jobType, "Step %q attempt %d failed, retrying in %v: %v", stepName, attempt+1, backoff, err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// writeStatus persists a step transition, retrying once on storage errors so
// a momentary ledger hiccup does not fail an otherwise healthy step.
func (s *Service) writeStatus(ctx context.Context, jobID, stepName string, status models.StepStatus, message string) error {
	err := s.store.UpdateStep(ctx, jobID, stepName, status, message)
	if err == nil {
		return nil
	}

	metrics.LedgerWriteRetries.Inc()
	if retryErr := s.store.UpdateStep(ctx, jobID, stepName, status, message); retryErr == nil {
		return nil
	}
	return err
}

// isTransient reports whether an error is worth retrying in place
func isTransient(err error) bool {
	if errors.Is(err, relay.ErrRelayUnavailable) ||
		errors.Is(err, chainrpc.ErrNodeUnavailable) ||
		errors.Is(err, chainrpc.ErrCircuitOpen) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporarily unavailable",
		"too many requests",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// classifyError buckets an error for metrics labels
func classifyError(err error) string {
	switch {
	case errors.Is(err, relay.ErrRelayUnavailable):
		return "relay_unavailable"
	case errors.Is(err, relay.ErrFinalizationTimeout):
		return "finalization_timeout"
	case errors.Is(err, chainrpc.ErrNodeUnavailable):
		return "node_unavailable"
	case errors.Is(err, chainrpc.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}
