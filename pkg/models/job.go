package models

import (
	"encoding/json"
	"time"
)

// StepStatus represents the status of a single job step
type StepStatus string

const (
	// StepPending indicates the step has not started yet
	StepPending StepStatus = "pending"
	// StepInProgress indicates the step is currently executing
	StepInProgress StepStatus = "in-progress"
	// StepCompleted indicates the step finished successfully
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the step finished with an error
	StepFailed StepStatus = "failed"
)

// Terminal returns true if the status can never change again
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Valid returns true if the status is one of the known values
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepFailed:
		return true
	}
	return false
}

// JobType represents the kind of user operation a job performs
type JobType string

const (
	JobCreatePortfolio JobType = "create-portfolio"
	JobBuyBundle       JobType = "buy-bundle"
	JobRebalance       JobType = "rebalance"
	JobWithdraw        JobType = "withdraw"
	JobAssignAgent     JobType = "assign-agent"
)

// Step represents one named unit of work within a job
type Step struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Job represents one user-initiated multi-step operation
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Steps       []Step          `json:"steps"`
	OwnerID     string          `json:"ownerId,omitempty"`
	RunID       string          `json:"runId,omitempty"`
	ReturnValue json.RawMessage `json:"returnValue,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Complete returns true once no further step progress is possible: either
// every step reached a terminal status, or a failed step halted the job and
// the steps after it will stay pending forever.
func (j *Job) Complete() bool {
	for _, s := range j.Steps {
		if s.Status == StepFailed {
			return true
		}
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

// Successful returns true if the job completed with every step successful
func (j *Job) Successful() bool {
	for _, s := range j.Steps {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// FindStep returns a pointer to the step with the given name, or nil
func (j *Job) FindStep(name string) *Step {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i]
		}
	}
	return nil
}
