package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-flowgate/internal/core/memory"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRunner answers per task type and counts calls.
type fakeRunner struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]domain.ActionResult
	errs    map[string]error
	panics  map[string]bool
	block   chan struct{}
	seen    []domain.ActionContext
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		calls:   make(map[string]int),
		results: make(map[string]domain.ActionResult),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (r *fakeRunner) ExecuteTask(ctx context.Context, taskType string, cfg domain.ActionConfig, actx domain.ActionContext) (domain.ActionResult, error) {
	r.mu.Lock()
	r.calls[taskType]++
	r.seen = append(r.seen, actx)
	res, ok := r.results[taskType]
	err := r.errs[taskType]
	shouldPanic := r.panics[taskType]
	block := r.block
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if shouldPanic {
		panic("runner exploded")
	}
	if err != nil {
		return domain.ActionResult{}, err
	}
	if !ok {
		res = domain.ActionResult{Success: true, Result: map[string]any{"ok": true}}
	}
	return res, nil
}

func (r *fakeRunner) Calls(taskType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[taskType]
}

func (r *fakeRunner) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.WorkflowEvent
}

func (b *recordingBus) Publish(ctx context.Context, event domain.WorkflowEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.EventType
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingQueue struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID][]time.Time
}

func (q *recordingQueue) Schedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduled == nil {
		q.scheduled = make(map[uuid.UUID][]time.Time)
	}
	q.scheduled[id] = append(q.scheduled[id], at)
	return nil
}

func (q *recordingQueue) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type harness struct {
	engine *Engine
	store  *memory.Store
	runner *fakeRunner
	clock  *testClock
	userID string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  memory.NewStore(),
		runner: newFakeRunner(),
		clock:  &testClock{t: testStart},
		userID: "tenant-1",
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.engine = New(h.store, h.runner, append(base, opts...)...)
	return h
}

type taskOpt func(*domain.Task)

func newTask(order int, taskType string, opts ...taskOpt) domain.Task {
	t := domain.Task{
		ID:           uuid.New(),
		Name:         taskType,
		TaskType:     taskType,
		DisplayOrder: order,
		DelayUnit:    domain.DelayMinutes,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func delay(v int, unit domain.DelayUnit) taskOpt {
	return func(t *domain.Task) {
		t.DelayValue = v
		t.DelayUnit = unit
	}
}

func hitl() taskOpt {
	return func(t *domain.Task) { t.IsHITL = true }
}

func childOf(parent domain.Task) taskOpt {
	return func(t *domain.Task) {
		id := parent.ID
		t.ParentTaskID = &id
	}
}

func when(field, op string, value any) taskOpt {
	return func(t *domain.Task) {
		t.BranchCondition = &domain.BranchCondition{Field: field, Operator: op, Value: value}
	}
}

func (h *harness) template(t *testing.T, tasks ...domain.Task) *domain.WorkflowTemplate {
	t.Helper()
	tmpl := &domain.WorkflowTemplate{
		ID:       uuid.New(),
		UserID:   h.userID,
		Name:     "Lead follow-up",
		Industry: "REAL_ESTATE",
	}
	for i := range tasks {
		tasks[i].TemplateID = tmpl.ID
	}
	tmpl.Tasks = tasks
	require.NoError(t, h.store.SaveTemplate(context.Background(), tmpl))
	return tmpl
}

func (h *harness) start(t *testing.T, tmpl *domain.WorkflowTemplate) uuid.UUID {
	t.Helper()
	lead := "lead-42"
	id, err := h.engine.StartWorkflowInstance(context.Background(), h.userID, tmpl.ID, StartContext{
		LeadID:      &lead,
		TriggerType: "lead_created",
		Metadata:    map[string]any{"source": "web"},
	})
	require.NoError(t, err)
	return id
}

func (h *harness) execution(t *testing.T, instanceID uuid.UUID, task domain.Task) *domain.TaskExecution {
	t.Helper()
	exec, err := h.store.FindExecution(context.Background(), instanceID, task.ID)
	require.NoError(t, err)
	return exec
}

func (h *harness) instance(t *testing.T, id uuid.UUID) *domain.WorkflowInstance {
	t.Helper()
	inst, err := h.store.GetInstance(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) process(t *testing.T, exec *domain.TaskExecution) {
	t.Helper()
	require.NoError(t, h.engine.ProcessTaskExecution(context.Background(), exec.ID))
}

var errRunner = errors.New("smtp: connection refused")

var errStore = errors.New("db: connection reset")

// flakyStore fails selected calls on demand.
type flakyStore struct {
	*memory.Store
	failResolve  atomic.Bool
	failTemplate atomic.Bool
}

func (s *flakyStore) ResolveNotifications(ctx context.Context, executionID uuid.UUID, status domain.NotificationStatus, resolvedBy string, at time.Time) error {
	if s.failResolve.Load() {
		return errStore
	}
	return s.Store.ResolveNotifications(ctx, executionID, status, resolvedBy, at)
}

func (s *flakyStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	if s.failTemplate.Load() {
		return nil, errStore
	}
	return s.Store.GetTemplate(ctx, id)
}

// newFlakyHarness is newHarness with the engine reading through a flakyStore.
func newFlakyHarness(t *testing.T, opts ...Option) (*harness, *flakyStore) {
	t.Helper()
	h := newHarness(t)
	flaky := &flakyStore{Store: h.store}
	base := []Option{
		WithClock(h.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.engine = New(flaky, h.runner, append(base, opts...)...)
	return h, flaky
}
