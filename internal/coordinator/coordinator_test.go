package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-flowgate/internal/core/memory"
	"go-flowgate/internal/domain"
	"go-flowgate/internal/engine"
	redisinfra "go-flowgate/internal/infrastructure/redis"
	"go-flowgate/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSource struct {
	ids []uuid.UUID
	err error
}

func (s staticSource) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && len(s.ids) > limit {
		return s.ids[:limit], nil
	}
	return s.ids, nil
}

type countingProcessor struct {
	mu       sync.Mutex
	seen     []uuid.UUID
	inFlight int32
	peak     int32
	delay    time.Duration
	err      error
}

func (p *countingProcessor) ProcessTaskExecution(ctx context.Context, id uuid.UUID) error {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.seen = append(p.seen, id)
	p.mu.Unlock()
	return p.err
}

func (p *countingProcessor) Seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestSweep_DispatchesBatch(t *testing.T) {
	proc := &countingProcessor{}
	c := NewCoordinator(staticSource{ids: ids(7)}, proc, Config{BatchSize: 5}, quietLogger())

	n, err := c.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, proc.Seen())
}

func TestSweep_RespectsConcurrency(t *testing.T) {
	proc := &countingProcessor{delay: 20 * time.Millisecond}
	c := NewCoordinator(staticSource{ids: ids(12)}, proc, Config{Concurrency: 3}, quietLogger())

	n, err := c.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.LessOrEqual(t, atomic.LoadInt32(&proc.peak), int32(3))
}

func TestSweep_ProcessingErrorsDoNotStopBatch(t *testing.T) {
	proc := &countingProcessor{err: errors.New("store unavailable")}
	c := NewCoordinator(staticSource{ids: ids(4)}, proc, Config{}, quietLogger())

	n, err := c.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, proc.Seen())
}

func TestSweep_SourceError(t *testing.T) {
	boom := errors.New("redis down")
	c := NewCoordinator(staticSource{err: boom}, &countingProcessor{}, Config{}, quietLogger())

	_, err := c.Sweep(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSweep_RateLimited(t *testing.T) {
	proc := &countingProcessor{}
	c := NewCoordinator(staticSource{ids: ids(3)}, proc, Config{RatePerSecond: 1}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	n, err := c.Sweep(ctx)

	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, proc.Seen())
}

func newTestQueue(t *testing.T) *redisinfra.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisinfra.NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return redisinfra.NewRedisQueue(client)
}

func scheduleAll(t *testing.T, q *redisinfra.RedisQueue, at time.Time, list []uuid.UUID) {
	t.Helper()
	for _, id := range list {
		require.NoError(t, q.Schedule(context.Background(), id, at))
	}
}

func TestSweep_FailedQueueEntriesAreRequeued(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	scheduleAll(t, q, now.Add(-time.Second), ids(2))

	proc := &countingProcessor{err: errors.New("store unavailable")}
	c := NewCoordinator(q, proc, Config{RetryDelay: time.Minute}, quietLogger())
	c.now = func() time.Time { return now }

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waiting, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), waiting)

	// Not due again until the retry delay has passed.
	n, err = c.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	proc.err = nil
	c.now = func() time.Time { return now.Add(time.Minute) }

	n, err = c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, proc.Seen())

	waiting, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, waiting)
}

func TestSweep_RateLimitedRemainderIsRequeued(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()
	scheduleAll(t, q, now.Add(-time.Second), ids(3))

	proc := &countingProcessor{}
	c := NewCoordinator(q, proc, Config{RatePerSecond: 1}, quietLogger())
	c.now = func() time.Time { return now }

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	n, err := c.Sweep(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	waiting, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), waiting)
}

func TestSweep_MissingExecutionIsNotRequeued(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	now := time.Now()
	scheduleAll(t, q, now.Add(-time.Second), ids(1))

	proc := &countingProcessor{err: fmt.Errorf("load: %w", engine.ErrExecutionNotFound)}
	c := NewCoordinator(q, proc, Config{}, quietLogger())
	c.now = func() time.Time { return now }

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waiting, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, waiting)
}

func TestStart_StopsOnCancel(t *testing.T) {
	proc := &countingProcessor{}
	c := NewCoordinator(staticSource{ids: ids(1)}, proc, Config{Interval: 10 * time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.Seen() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestStart_TerminalEventTriggersSweep(t *testing.T) {
	proc := &countingProcessor{}
	c := NewCoordinator(staticSource{ids: ids(1)}, proc, Config{Interval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan domain.WorkflowEvent)
	done := make(chan struct{})
	go func() {
		c.Start(ctx, events)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.Seen() == 1 }, time.Second, 5*time.Millisecond)

	events <- domain.WorkflowEvent{Type: domain.EventTaskTransitioned, To: domain.StatusInProgress}
	events <- domain.WorkflowEvent{Type: domain.EventTaskTransitioned, To: domain.StatusCompleted}
	require.Eventually(t, func() bool { return proc.Seen() == 2 }, time.Second, 5*time.Millisecond)

	close(events)
	cancel()
	<-done
}

func TestCoordinator_DrivesEngineThroughStore(t *testing.T) {
	store := memory.NewStore()
	clock := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	eng := engine.New(store, worker.InitRegistry(quietLogger(), nil),
		engine.WithClock(now),
		engine.WithLogger(quietLogger()))

	first := domain.Task{ID: uuid.New(), Name: "intro", TaskType: "noop", DisplayOrder: 1, DelayValue: 1, DelayUnit: domain.DelayHours}
	second := domain.Task{ID: uuid.New(), Name: "follow up", TaskType: "noop", DisplayOrder: 2, DelayValue: 1, DelayUnit: domain.DelayDays}
	tmpl := &domain.WorkflowTemplate{ID: uuid.New(), UserID: "u1", Name: "drip", Tasks: []domain.Task{first, second}}
	require.NoError(t, store.SaveTemplate(context.Background(), tmpl))

	id, err := eng.StartWorkflowInstance(context.Background(), "u1", tmpl.ID, engine.StartContext{})
	require.NoError(t, err)

	c := NewCoordinator(NewStoreSource(store), eng, Config{}, quietLogger())
	c.now = now

	n, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	mu.Lock()
	clock = clock.Add(25 * time.Hour)
	mu.Unlock()

	n, err = c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inst, err := store.GetInstance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceCompleted, inst.Status)
}
