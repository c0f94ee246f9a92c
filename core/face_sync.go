package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// FaceSyncOp is the gallery change a job carries.
type FaceSyncOp string

const (
	FaceSyncEnroll FaceSyncOp = "enroll"
	FaceSyncRemove FaceSyncOp = "remove"
)

// FaceSyncJob is the queue payload. ID keeps otherwise identical jobs
// distinct in the processing set.
type FaceSyncJob struct {
	ID      string     `json:"id"`
	Op      FaceSyncOp `json:"op"`
	UserID  string     `json:"user_id"`
	Attempt int        `json:"attempt"`
}

func (j FaceSyncJob) String() string {
	return fmt.Sprintf("%s:%s:%s", j.Op, j.UserID, j.ID)
}

// Encode returns the queue representation of j.
func (j FaceSyncJob) Encode() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeFaceSyncJob parses a queue value and rejects unknown operations.
func DecodeFaceSyncJob(raw string) (FaceSyncJob, error) {
	var j FaceSyncJob
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return FaceSyncJob{}, fmt.Errorf("%w: face sync job: %v", ErrInvalidInput, err)
	}
	switch j.Op {
	case FaceSyncEnroll, FaceSyncRemove:
	default:
		return FaceSyncJob{}, fmt.Errorf("%w: face sync op %q", ErrInvalidInput, j.Op)
	}
	if !IsUserID(j.UserID) {
		return FaceSyncJob{}, fmt.Errorf("%w: face sync user id %q", ErrInvalidInput, j.UserID)
	}
	return j, nil
}

// FaceSyncScheduler records that the face gallery of an account changed.
type FaceSyncScheduler interface {
	Schedule(ctx context.Context, op FaceSyncOp, userID string) error
}

// QueueFaceSyncScheduler pushes jobs onto the Redis face-sync queue.
type QueueFaceSyncScheduler struct {
	queue   RedisClient
	metrics *Metrics
}

func NewQueueFaceSyncScheduler(queue RedisClient, metrics *Metrics) *QueueFaceSyncScheduler {
	return &QueueFaceSyncScheduler{queue: queue, metrics: metrics}
}

func (s *QueueFaceSyncScheduler) Schedule(ctx context.Context, op FaceSyncOp, userID string) error {
	job := FaceSyncJob{ID: ulid.Make().String(), Op: op, UserID: userID}
	raw, err := job.Encode()
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, PendingQueueKey, raw); err != nil {
		return fmt.Errorf("enqueue face sync %s: %w", job, err)
	}
	s.metrics.faceSyncJob(string(op), "enqueued")
	return nil
}
