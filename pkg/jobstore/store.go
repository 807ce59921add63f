// Package jobstore provides the durable step ledger behind every job: an
// ordered list of named steps whose statuses only ever move forward.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fluxfolio/engine/pkg/models"
)

var (
	// ErrNotFound is returned when a job or step does not exist
	ErrNotFound = errors.New("job not found")
	// ErrStorage is returned when the backing store is unreachable
	ErrStorage = errors.New("job storage unavailable")
)

// Store is the ledger contract used by the orchestrator and the polling API.
// UpdateStep resolves steps by name rather than index so handlers can update
// a step without knowing its position in the sequence.
type Store interface {
	// CreateJob persists a new job with every step pending and returns its id.
	CreateJob(ctx context.Context, jobType models.JobType, steps []string, ownerID string) (string, error)

	// GetJob returns the job with the given id, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateStep sets the named step's status and optional message and bumps
	// the job's updatedAt. Steps that already reached a terminal status are
	// left untouched: writing the same terminal status again is a no-op and
	// a conflicting write is dropped rather than reverting the step.
	UpdateStep(ctx context.Context, jobID, stepName string, status models.StepStatus, message string) error

	// AttachRunID records the workflow engine's own run id on the job for
	// cross-referencing. Best effort: failures must not abort the pipeline.
	AttachRunID(ctx context.Context, jobID, runID string) error

	// SetReturnValue stores an opaque result payload on the job.
	SetReturnValue(ctx context.Context, jobID string, value json.RawMessage) error

	// ListJobsByOwner returns all jobs created for the given owner.
	ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error)
}

// newSteps builds the initial pending step list from step names
func newSteps(names []string) []models.Step {
	steps := make([]models.Step, 0, len(names))
	for _, name := range names {
		steps = append(steps, models.Step{Name: name, Status: models.StepPending})
	}
	return steps
}

// applyStepUpdate mutates the named step in place honoring the forward-only
// transition rule. Returns ErrNotFound if the step is absent, and reports
// whether anything actually changed.
func applyStepUpdate(job *models.Job, stepName string, status models.StepStatus, message string) (bool, error) {
	step := job.FindStep(stepName)
	if step == nil {
		return false, ErrNotFound
	}
	if step.Status.Terminal() {
		// Idempotent repeat of the same terminal status is fine; anything
		// else would revert a terminal step and is dropped.
		return false, nil
	}
	step.Status = status
	if message != "" {
		step.Message = message
	}
	return true, nil
}
