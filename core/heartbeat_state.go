package core

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

const defaultHeartbeatInterval = 5 * time.Second

// HeartbeatState collects what one worker process is doing and publishes it
// to Redis on every tick.
type HeartbeatState struct {
	mu       sync.Mutex
	hb       WorkerHeartbeat
	running  map[string]RunningFaceSyncJob
	interval time.Duration
	now      func() time.Time
}

func NewHeartbeatState(workerID, hostname string, concurrency int) *HeartbeatState {
	s := &HeartbeatState{
		running:  make(map[string]RunningFaceSyncJob),
		interval: defaultHeartbeatInterval,
		now:      time.Now,
	}
	s.hb = WorkerHeartbeat{
		WorkerID:    workerID,
		Hostname:    hostname,
		PID:         os.Getpid(),
		Concurrency: concurrency,
		Status:      "starting",
		Totals:      map[FaceSyncOp]FaceSyncOpTotals{},
		StartedAt:   s.now(),
	}
	return s
}

// Start publishes immediately and then on every interval until ctx is done.
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	s.flush(ctx, client)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx, client)
		}
	}
}

// JobStarted records that a slot picked up job.
func (s *HeartbeatState) JobStarted(job FaceSyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[job.ID] = RunningFaceSyncJob{
		JobID:     job.ID,
		Op:        job.Op,
		UserID:    job.UserID,
		Attempt:   job.Attempt,
		StartedAt: s.now(),
	}
	s.hb.Status = "busy"
}

// JobFinished counts one delivery of job under outcome. cause is the
// processing error of a retried or failed delivery.
func (s *HeartbeatState) JobFinished(job FaceSyncJob, outcome FaceSyncOutcome, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, job.ID)
	totals := s.hb.Totals[job.Op]
	totals.add(outcome)
	s.hb.Totals[job.Op] = totals
	if outcome != OutcomeSucceeded && cause != nil {
		s.hb.LastFailure = &FaceSyncFailure{
			JobID:   job.ID,
			Op:      job.Op,
			UserID:  job.UserID,
			Attempt: job.Attempt,
			Outcome: outcome,
			Message: cause.Error(),
			At:      s.now(),
		}
	}
	if len(s.running) == 0 {
		s.hb.Status = "idle"
	}
}

// JobDropped counts a payload that could not be decoded.
func (s *HeartbeatState) JobDropped(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.Dropped++
	s.hb.LastFailure = &FaceSyncFailure{Message: cause.Error(), At: s.now()}
}

// Snapshot returns a deep copy of the current heartbeat with running jobs
// ordered by start time.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *HeartbeatState) snapshotLocked() WorkerHeartbeat {
	hb := s.hb
	hb.Totals = make(map[FaceSyncOp]FaceSyncOpTotals, len(s.hb.Totals))
	for op, t := range s.hb.Totals {
		hb.Totals[op] = t
	}
	if s.hb.LastFailure != nil {
		f := *s.hb.LastFailure
		hb.LastFailure = &f
	}
	hb.Running = make([]RunningFaceSyncJob, 0, len(s.running))
	for _, j := range s.running {
		hb.Running = append(hb.Running, j)
	}
	sort.Slice(hb.Running, func(i, j int) bool {
		return hb.Running[i].StartedAt.Before(hb.Running[j].StartedAt)
	})
	return hb
}

func (s *HeartbeatState) flush(ctx context.Context, client RedisClientRaw) {
	s.mu.Lock()
	s.hb.UpdatedAt = s.now()
	hb := s.snapshotLocked()
	s.mu.Unlock()
	if err := publishHeartbeat(ctx, client, hb); err != nil && ctx.Err() == nil {
		slog.Warn("heartbeat publish failed", "worker_id", hb.WorkerID, "error", err)
	}
}
