package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// flakyMatcher fails the first failures gallery calls.
type flakyMatcher struct {
	mu       sync.Mutex
	failures int
	enrolls  int
	removes  int
}

func (m *flakyMatcher) Match(context.Context, []byte) (*FaceMatch, error) { return &FaceMatch{}, nil }

func (m *flakyMatcher) Enroll(context.Context, string, []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrolls++
	return m.failLocked()
}

func (m *flakyMatcher) Remove(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removes++
	return m.failLocked()
}

func (m *flakyMatcher) failLocked() error {
	if m.failures > 0 {
		m.failures--
		return errors.New("face service unavailable")
	}
	return nil
}

func (m *flakyMatcher) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrolls, m.removes
}

type workerFixture struct {
	client  *redis.Client
	sched   *QueueFaceSyncScheduler
	images  *LocalFaceStore
	matcher *flakyMatcher
	metrics *Metrics
	state   *HeartbeatState
}

// runWorker starts a worker and returns a stop func that waits for it to exit
// and releases Redis.
func runWorker(t *testing.T, failures, maxAttempts int) (*workerFixture, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	images, err := NewLocalFaceStore(t.TempDir())
	require.NoError(t, err)

	f := &workerFixture{
		client:  client,
		images:  images,
		matcher: &flakyMatcher{failures: failures},
		metrics: NewMetrics(prometheus.NewRegistry()),
		state:   NewHeartbeatState("w1", "host", 2),
	}
	queue := NewRedisQueue(client)
	f.sched = NewQueueFaceSyncScheduler(queue, f.metrics)
	worker := NewFaceSyncWorker(queue, NewFaceSyncProcessor(images, f.matcher), f.state, f.metrics, FaceSyncWorkerOptions{
		Concurrency:     2,
		ReclaimInterval: 20 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		MaxAttempts:     maxAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	return f, func() {
		cancel()
		<-done
		_ = client.Close()
		mr.Close()
	}
}

func TestFaceSyncWorker_EnrollAndRemove(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, stop := runWorker(t, 0, 0)
	ctx := context.Background()
	id := NewUserID()
	require.NoError(t, f.images.Put(ctx, id, []byte("jpeg")))

	require.NoError(t, f.sched.Schedule(ctx, FaceSyncEnroll, id))
	require.NoError(t, f.sched.Schedule(ctx, FaceSyncRemove, id))
	require.Eventually(t, func() bool {
		enrolls, removes := f.matcher.counts()
		return enrolls == 1 && removes == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		hb := f.state.Snapshot()
		return hb.Totals[FaceSyncEnroll].Succeeded == 1 && hb.Totals[FaceSyncRemove].Succeeded == 1
	}, 2*time.Second, 5*time.Millisecond)
	n, err := f.client.ZCard(ctx, ProcessingQueueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FaceSyncJobs.WithLabelValues("enroll", "succeeded")))
	assert.Equal(t, "idle", f.state.Snapshot().Status)
}

func TestFaceSyncWorker_RetriesThenSucceeds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, stop := runWorker(t, 2, 4)
	defer stop()
	ctx := context.Background()

	require.NoError(t, f.sched.Schedule(ctx, FaceSyncRemove, NewUserID()))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.FaceSyncJobs.WithLabelValues("remove", "succeeded")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, removes := f.matcher.counts()
	assert.Equal(t, 3, removes)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.FaceSyncJobs.WithLabelValues("remove", "retried")))
}

func TestFaceSyncWorker_GivesUp(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, stop := runWorker(t, 100, 2)
	defer stop()
	ctx := context.Background()

	require.NoError(t, f.sched.Schedule(ctx, FaceSyncRemove, NewUserID()))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.FaceSyncJobs.WithLabelValues("remove", "failed")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, removes := f.matcher.counts()
	assert.Equal(t, 2, removes)
	pending, err := f.client.LLen(ctx, PendingQueueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, pending)
	require.Eventually(t, func() bool {
		return f.state.Snapshot().Totals[FaceSyncRemove] == FaceSyncOpTotals{Retried: 1, Failed: 1}
	}, time.Second, 5*time.Millisecond)
	last := f.state.Snapshot().LastFailure
	require.NotNil(t, last)
	assert.Equal(t, OutcomeFailed, last.Outcome)
	assert.Equal(t, 1, last.Attempt)
}

func TestFaceSyncWorker_DropsMalformedJobs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, stop := runWorker(t, 0, 0)
	defer stop()
	ctx := context.Background()

	require.NoError(t, f.client.LPush(ctx, PendingQueueKey, "garbage").Err())
	require.Eventually(t, func() bool {
		pending, _ := f.client.LLen(ctx, PendingQueueKey).Result()
		processing, _ := f.client.ZCard(ctx, ProcessingQueueKey).Result()
		return pending == 0 && processing == 0
	}, 2*time.Second, 5*time.Millisecond)
	enrolls, removes := f.matcher.counts()
	assert.Zero(t, enrolls+removes)
	require.Eventually(t, func() bool {
		return f.state.Snapshot().Dropped == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FaceSyncJobs.WithLabelValues("unknown", "dropped")))
}

func TestFaceSyncProcessor_MissingImageIsSkipped(t *testing.T) {
	images, err := NewLocalFaceStore(t.TempDir())
	require.NoError(t, err)
	matcher := &stubMatcher{}
	p := NewFaceSyncProcessor(images, matcher)

	err = p.Process(context.Background(), FaceSyncJob{Op: FaceSyncEnroll, UserID: NewUserID()})
	require.NoError(t, err)
	assert.Empty(t, matcher.enrolled)
}
