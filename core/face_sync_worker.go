package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FaceSyncWorkerOptions configures a FaceSyncWorker. Zero values take the defaults.
type FaceSyncWorkerOptions struct {
	Concurrency     int
	Visibility      time.Duration
	ReclaimInterval time.Duration
	PollInterval    time.Duration
	MaxAttempts     int
}

// FaceSyncWorker consumes the face-sync queue with a fixed number of goroutines
// and periodically requeues jobs whose visibility deadline passed.
type FaceSyncWorker struct {
	queue     RedisClient
	processor *FaceSyncProcessor
	state     *HeartbeatState
	metrics   *Metrics
	opts      FaceSyncWorkerOptions
}

// NewFaceSyncWorker wires a worker. state and metrics may be nil.
func NewFaceSyncWorker(queue RedisClient, processor *FaceSyncProcessor, state *HeartbeatState, metrics *Metrics, opts FaceSyncWorkerOptions) *FaceSyncWorker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Visibility <= 0 {
		opts.Visibility = DefaultVisibilityTimeout
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = DefaultReclaimInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = MaxFaceSyncAttempts
	}
	return &FaceSyncWorker{queue: queue, processor: processor, state: state, metrics: metrics, opts: opts}
}

// Run blocks until ctx is done and every goroutine it started has returned.
func (w *FaceSyncWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()

	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consume(ctx, slot)
		}(i + 1)
	}
	wg.Wait()
}

func (w *FaceSyncWorker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := w.queue.RequeueExpired(ctx, ProcessingQueueKey, PendingQueueKey, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("requeue expired face sync jobs", "error", err)
				}
				continue
			}
			if len(jobs) > 0 {
				slog.Info("requeued expired face sync jobs", "count", len(jobs))
			}
		}
	}
}

func (w *FaceSyncWorker) consume(ctx context.Context, slot int) {
	for {
		raw, err := w.queue.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, w.opts.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := w.opts.PollInterval
			if !errors.Is(err, redis.Nil) {
				slog.Error("reserve face sync job", "slot", slot, "error", err)
				wait = time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}
		w.handle(ctx, slot, raw)
	}
}

func (w *FaceSyncWorker) handle(ctx context.Context, slot int, raw string) {
	job, err := DecodeFaceSyncJob(raw)
	if err != nil {
		slog.Error("dropping malformed face sync job", "slot", slot, "payload", raw, "error", err)
		w.metrics.faceSyncJob("unknown", "dropped")
		if w.state != nil {
			w.state.JobDropped(err)
		}
		w.ack(ctx, raw)
		return
	}

	if w.state != nil {
		w.state.JobStarted(job)
	}
	procErr := w.processor.Process(ctx, job)
	outcome := OutcomeSucceeded
	if procErr != nil {
		outcome = OutcomeFailed
		if job.Attempt+1 < w.opts.MaxAttempts && w.retry(ctx, slot, job, procErr) {
			outcome = OutcomeRetried
		}
	}
	w.metrics.faceSyncJob(string(job.Op), string(outcome))
	if outcome == OutcomeFailed {
		slog.Error("face sync job failed", "slot", slot, "job", job.String(),
			"attempts", job.Attempt+1, "error", procErr)
	}
	w.ack(ctx, raw)
	if w.state != nil {
		w.state.JobFinished(job, outcome, procErr)
	}
}

// retry requeues job with its attempt counter bumped and reports whether that worked.
func (w *FaceSyncWorker) retry(ctx context.Context, slot int, job FaceSyncJob, cause error) bool {
	job.Attempt++
	next, err := job.Encode()
	if err == nil {
		err = w.queue.Enqueue(ctx, PendingQueueKey, next)
	}
	if err != nil {
		slog.Error("re-enqueue face sync job", "slot", slot, "job", job.String(), "error", err)
		return false
	}
	slog.Warn("face sync job retried", "slot", slot, "job", job.String(), "attempt", job.Attempt, "error", cause)
	return true
}

func (w *FaceSyncWorker) ack(ctx context.Context, raw string) {
	if err := w.queue.Ack(ctx, ProcessingQueueKey, raw); err != nil && ctx.Err() == nil {
		slog.Error("ack face sync job", "error", err)
	}
}
