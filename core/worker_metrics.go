package core

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	workerKeyPrefix = "face_sync:worker:"
	// WorkerRegistryKey is a sorted set of worker ids scored by their last heartbeat (Unix ms).
	WorkerRegistryKey  = "face_sync:workers"
	WorkerHeartbeatTTL = 45 * time.Second
)

// FaceSyncOutcome is how a worker finished with one delivery of a job.
type FaceSyncOutcome string

const (
	OutcomeSucceeded FaceSyncOutcome = "succeeded"
	OutcomeRetried   FaceSyncOutcome = "retried"
	OutcomeFailed    FaceSyncOutcome = "failed"
)

// FaceSyncOpTotals counts finished deliveries of one operation.
type FaceSyncOpTotals struct {
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

func (t *FaceSyncOpTotals) add(o FaceSyncOutcome) {
	switch o {
	case OutcomeSucceeded:
		t.Succeeded++
	case OutcomeRetried:
		t.Retried++
	case OutcomeFailed:
		t.Failed++
	}
}

// RunningFaceSyncJob is a job one worker slot is applying right now.
type RunningFaceSyncJob struct {
	JobID     string     `json:"job_id"`
	Op        FaceSyncOp `json:"op"`
	UserID    string     `json:"user_id"`
	Attempt   int        `json:"attempt"`
	StartedAt time.Time  `json:"started_at"`
}

// FaceSyncFailure describes the most recent delivery that did not succeed.
type FaceSyncFailure struct {
	JobID   string          `json:"job_id,omitempty"`
	Op      FaceSyncOp      `json:"op,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Attempt int             `json:"attempt"`
	Outcome FaceSyncOutcome `json:"outcome"`
	Message string          `json:"message"`
	At      time.Time       `json:"at"`
}

// WorkerHeartbeat is what a face-sync worker publishes about itself.
type WorkerHeartbeat struct {
	WorkerID    string                          `json:"worker_id"`
	Hostname    string                          `json:"hostname"`
	PID         int                             `json:"pid"`
	Concurrency int                             `json:"concurrency"`
	Status      string                          `json:"status"` // starting|idle|busy
	Running     []RunningFaceSyncJob            `json:"running"`
	Totals      map[FaceSyncOp]FaceSyncOpTotals `json:"totals"`
	Dropped     int64                           `json:"dropped"`
	LastFailure *FaceSyncFailure                `json:"last_failure,omitempty"`
	StartedAt   time.Time                       `json:"started_at"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

func workerKey(id string) string {
	return workerKeyPrefix + id
}

// publishHeartbeat stores hb under its own key with WorkerHeartbeatTTL and
// bumps the worker's score in the registry.
func publishHeartbeat(ctx context.Context, client RedisClientRaw, hb WorkerHeartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	if err := client.Set(ctx, workerKey(hb.WorkerID), data, WorkerHeartbeatTTL).Err(); err != nil {
		return err
	}
	return client.ZAdd(ctx, WorkerRegistryKey, redis.Z{
		Score:  float64(hb.UpdatedAt.UnixMilli()),
		Member: hb.WorkerID,
	}).Err()
}

// liveWorkerIDs prunes registry entries older than the heartbeat TTL and
// returns the rest, most recently seen first.
func liveWorkerIDs(ctx context.Context, client RedisClientRaw, now time.Time) ([]string, error) {
	cutoff := strconv.FormatInt(now.Add(-WorkerHeartbeatTTL).UnixMilli(), 10)
	if err := client.ZRemRangeByScore(ctx, WorkerRegistryKey, "-inf", "("+cutoff).Err(); err != nil {
		return nil, err
	}
	return client.ZRevRangeByScore(ctx, WorkerRegistryKey, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
}
