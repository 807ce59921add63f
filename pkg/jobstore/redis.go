package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fluxfolio/engine/pkg/models"
)

// RedisStore persists jobs as Redis hashes. The step collection is stored as
// a single JSON-encoded array under the "steps" field, matching the wire
// format the polling API exposes. Step updates run inside a WATCH
// transaction so concurrent writers never lose updates.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed job store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "job:"}
}

func (s *RedisStore) key(jobID string) string {
	return s.prefix + jobID
}

func (s *RedisStore) ownerKey(ownerID string) string {
	return s.prefix + "owner:" + ownerID
}

func (s *RedisStore) CreateJob(ctx context.Context, jobType models.JobType, steps []string, ownerID string) (string, error) {
	jobID := uuid.NewString()
	now := time.Now().UTC()

	stepsJSON, err := json.Marshal(newSteps(steps))
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}

	fields := map[string]interface{}{
		"id":        jobID,
		"type":      string(jobType),
		"steps":     string(stepsJSON),
		"ownerId":   ownerID,
		"createdAt": now.UnixMilli(),
		"updatedAt": now.UnixMilli(),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), fields)
	if ownerID != "" {
		pipe.SAdd(ctx, s.ownerKey(ownerID), jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return jobID, nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(fields)
}

func (s *RedisStore) UpdateStep(ctx context.Context, jobID, stepName string, status models.StepStatus, message string) error {
	key := s.key(jobID)

	txn := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrNotFound
		}
		job, err := decodeJob(fields)
		if err != nil {
			return err
		}

		changed, err := applyStepUpdate(job, stepName, status, message)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		stepsJSON, err := json.Marshal(job.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				"steps":     string(stepsJSON),
				"updatedAt": time.Now().UTC().UnixMilli(),
			})
			return nil
		})
		return err
	}

	// Bounded optimistic retry on WATCH conflicts
	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return fmt.Errorf("%w: step update conflict on %s", ErrStorage, jobID)
}

func (s *RedisStore) AttachRunID(ctx context.Context, jobID, runID string) error {
	return s.setField(ctx, jobID, "runId", runID)
}

func (s *RedisStore) SetReturnValue(ctx context.Context, jobID string, value json.RawMessage) error {
	return s.setField(ctx, jobID, "returnValue", string(value))
}

func (s *RedisStore) setField(ctx context.Context, jobID, field, value string) error {
	exists, err := s.client.Exists(ctx, s.key(jobID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	err = s.client.HSet(ctx, s.key(jobID), map[string]interface{}{
		field:       value,
		"updatedAt": time.Now().UTC().UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *RedisStore) ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error) {
	ids, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// decodeJob reconstructs a job from its hash fields
func decodeJob(fields map[string]string) (*models.Job, error) {
	job := &models.Job{
		ID:      fields["id"],
		Type:    models.JobType(fields["type"]),
		OwnerID: fields["ownerId"],
		RunID:   fields["runId"],
	}
	if raw := fields["steps"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	if raw := fields["returnValue"]; raw != "" {
		job.ReturnValue = json.RawMessage(raw)
	}
	if raw := fields["createdAt"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode createdAt: %w", err)
		}
		job.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if raw := fields["updatedAt"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode updatedAt: %w", err)
		}
		job.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return job, nil
}
