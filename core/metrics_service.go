package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// FaceSyncQueueCounts splits the jobs of one operation by queue.
type FaceSyncQueueCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// QueueMetrics is the current state of the face-sync queue. Retrying counts
// queued jobs past their first delivery; Expired counts reserved jobs whose
// visibility deadline passed and that the next reclaim will requeue.
type QueueMetrics struct {
	Pending    int64                              `json:"pending"`
	Processing int64                              `json:"processing"`
	Expired    int64                              `json:"expired"`
	Retrying   int64                              `json:"retrying"`
	Malformed  int64                              `json:"malformed"`
	ByOp       map[FaceSyncOp]FaceSyncQueueCounts `json:"by_op"`
	ByAttempt  map[int]int64                      `json:"by_attempt"`
}

// MetricsService reports the face-sync queue and the live workers for the admin routes.
type MetricsService struct {
	redis RedisClientRaw
	now   func() time.Time
}

func NewMetricsService(redis RedisClientRaw) *MetricsService {
	return &MetricsService{redis: redis, now: time.Now}
}

// Overview returns the queue state and every live worker.
func (s *MetricsService) Overview(ctx context.Context) (QueueMetrics, []WorkerHeartbeat, error) {
	queue, err := s.Queue(ctx)
	if err != nil {
		return QueueMetrics{}, nil, err
	}
	workers, err := s.Workers(ctx)
	if err != nil {
		return queue, nil, err
	}
	return queue, workers, nil
}

// Queue decodes every pending and reserved job and breaks them down by
// operation and delivery attempt.
func (s *MetricsService) Queue(ctx context.Context) (QueueMetrics, error) {
	pending, err := s.redis.LRange(ctx, PendingQueueKey, 0, -1).Result()
	if err != nil {
		return QueueMetrics{}, err
	}
	reserved, err := s.redis.ZRangeWithScores(ctx, ProcessingQueueKey, 0, -1).Result()
	if err != nil {
		return QueueMetrics{}, err
	}

	m := QueueMetrics{
		Pending:    int64(len(pending)),
		Processing: int64(len(reserved)),
		ByOp:       map[FaceSyncOp]FaceSyncQueueCounts{},
		ByAttempt:  map[int]int64{},
	}
	for _, raw := range pending {
		job, ok := m.count(raw)
		if !ok {
			continue
		}
		c := m.ByOp[job.Op]
		c.Pending++
		m.ByOp[job.Op] = c
		if job.Attempt > 0 {
			m.Retrying++
		}
	}
	deadline := float64(s.now().UnixMilli())
	for _, z := range reserved {
		if z.Score <= deadline {
			m.Expired++
		}
		raw, _ := z.Member.(string)
		job, ok := m.count(raw)
		if !ok {
			continue
		}
		c := m.ByOp[job.Op]
		c.Processing++
		m.ByOp[job.Op] = c
	}
	return m, nil
}

func (m *QueueMetrics) count(raw string) (FaceSyncJob, bool) {
	job, err := DecodeFaceSyncJob(raw)
	if err != nil {
		m.Malformed++
		return FaceSyncJob{}, false
	}
	m.ByAttempt[job.Attempt+1]++
	return job, true
}

// Workers returns the heartbeat of every worker seen within WorkerHeartbeatTTL.
// Heartbeats that expired or cannot be read are skipped.
func (s *MetricsService) Workers(ctx context.Context) ([]WorkerHeartbeat, error) {
	ids, err := liveWorkerIDs(ctx, s.redis, s.now())
	if err != nil {
		return nil, err
	}
	res := []WorkerHeartbeat{}
	if len(ids) == 0 {
		return res, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = workerKey(id)
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal([]byte(raw), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	return res, nil
}

// WorkerByID returns one heartbeat or ErrNotFound.
func (s *MetricsService) WorkerByID(ctx context.Context, id string) (*WorkerHeartbeat, error) {
	raw, err := s.redis.Get(ctx, workerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var hb WorkerHeartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}
