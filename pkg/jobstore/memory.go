package jobstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxfolio/engine/pkg/models"
)

// MemoryStore is an in-memory Store implementation used in tests and local
// development. All access goes through a single mutex, so concurrent step
// writers see serialized read-modify-write semantics like the Redis store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (m *MemoryStore) CreateJob(_ context.Context, jobType models.JobType, steps []string, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Steps:     newSteps(steps),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	cp.Steps = append([]models.Step(nil), job.Steps...)
	return &cp, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, jobID, stepName string, status models.StepStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	changed, err := applyStepUpdate(job, stepName, status, message)
	if err != nil {
		return err
	}
	if changed {
		job.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) AttachRunID(_ context.Context, jobID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.RunID = runID
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetReturnValue(_ context.Context, jobID string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.ReturnValue = append(json.RawMessage(nil), value...)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListJobsByOwner(_ context.Context, ownerID string) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*models.Job
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			cp := *job
			cp.Steps = append([]models.Step(nil), job.Steps...)
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}
