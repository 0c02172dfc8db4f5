// Package memory is an in-process implementation of ports.Store, used for
// tests and single-node runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

type Store struct {
	mu            sync.RWMutex
	templates     map[uuid.UUID]domain.WorkflowTemplate
	instances     map[uuid.UUID]domain.WorkflowInstance
	executions    map[uuid.UUID]domain.TaskExecution
	notifications map[uuid.UUID]domain.HITLNotification
	now           func() time.Time
}

var _ ports.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		templates:     make(map[uuid.UUID]domain.WorkflowTemplate),
		instances:     make(map[uuid.UUID]domain.WorkflowInstance),
		executions:    make(map[uuid.UUID]domain.TaskExecution),
		notifications: make(map[uuid.UUID]domain.HITLNotification),
		now:           time.Now,
	}
}

// withContext fails fast on a done context, like a driver would.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

func withContextError(ctx context.Context, fn func() error) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *Store) SaveTemplate(ctx context.Context, tmpl *domain.WorkflowTemplate) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		cp := *tmpl
		cp.Tasks = append([]domain.Task(nil), tmpl.Tasks...)
		s.templates[tmpl.ID] = cp
		return nil
	})
}

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	return withContext(ctx, func() (*domain.WorkflowTemplate, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		tmpl, ok := s.templates[id]
		if !ok {
			return nil, fmt.Errorf("%w: template id=%s", ports.ErrNotFound, id)
		}
		tmpl.Tasks = append([]domain.Task(nil), tmpl.Tasks...)
		return &tmpl, nil
	})
}

func (s *Store) CountTemplates(ctx context.Context, userID string) (int64, error) {
	return withContext(ctx, func() (int64, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var n int64
		for _, tmpl := range s.templates {
			if tmpl.UserID == userID {
				n++
			}
		}
		return n, nil
	})
}

func (s *Store) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance, execs []domain.TaskExecution) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.instances[inst.ID]; exists {
			return fmt.Errorf("instance %s already exists", inst.ID)
		}
		seen := make(map[uuid.UUID]bool, len(execs))
		for _, e := range execs {
			if seen[e.TaskID] {
				return fmt.Errorf("duplicate execution for task %s", e.TaskID)
			}
			seen[e.TaskID] = true
		}
		s.instances[inst.ID] = cloneInstance(*inst)
		for _, e := range execs {
			s.executions[e.ID] = cloneExecution(e)
		}
		return nil
	})
}

func (s *Store) GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	return withContext(ctx, func() (*domain.WorkflowInstance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		inst, ok := s.instances[id]
		if !ok {
			return nil, fmt.Errorf("%w: instance id=%s", ports.ErrNotFound, id)
		}
		inst = cloneInstance(inst)
		return &inst, nil
	})
}

func (s *Store) TransitionInstance(ctx context.Context, id uuid.UUID, from, to domain.InstanceStatus, completedAt *time.Time) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		inst, ok := s.instances[id]
		if !ok || inst.Status != from {
			return ports.ErrConflict
		}
		inst.Status = to
		inst.UpdatedAt = s.now()
		if completedAt != nil {
			at := *completedAt
			inst.CompletedAt = &at
		}
		s.instances[id] = inst
		return nil
	})
}

func (s *Store) CountInstances(ctx context.Context, userID string, status domain.InstanceStatus) (int64, error) {
	return withContext(ctx, func() (int64, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var n int64
		for _, inst := range s.instances {
			if inst.UserID == userID && inst.Status == status {
				n++
			}
		}
		return n, nil
	})
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	return withContext(ctx, func() (*domain.TaskExecution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		e, ok := s.executions[id]
		if !ok {
			return nil, fmt.Errorf("%w: execution id=%s", ports.ErrNotFound, id)
		}
		e = cloneExecution(e)
		return &e, nil
	})
}

func (s *Store) FindExecution(ctx context.Context, instanceID, taskID uuid.UUID) (*domain.TaskExecution, error) {
	return withContext(ctx, func() (*domain.TaskExecution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, e := range s.executions {
			if e.InstanceID == instanceID && e.TaskID == taskID {
				e = cloneExecution(e)
				return &e, nil
			}
		}
		return nil, fmt.Errorf("%w: execution instance=%s task=%s", ports.ErrNotFound, instanceID, taskID)
	})
}

func (s *Store) ListExecutions(ctx context.Context, instanceID uuid.UUID) ([]domain.TaskExecution, error) {
	return withContext(ctx, func() ([]domain.TaskExecution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []domain.TaskExecution
		for _, e := range s.executions {
			if e.InstanceID == instanceID {
				out = append(out, cloneExecution(e))
			}
		}
		sortBySchedule(out)
		return out, nil
	})
}

func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskExecution, error) {
	return withContext(ctx, func() ([]domain.TaskExecution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []domain.TaskExecution
		for _, e := range s.executions {
			if e.Status != domain.StatusPending || !e.IsDue(now) {
				continue
			}
			if inst, ok := s.instances[e.InstanceID]; !ok || inst.Status != domain.InstanceActive {
				continue
			}
			out = append(out, cloneExecution(e))
		}
		sortBySchedule(out)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	})
}

func (s *Store) TransitionExecution(ctx context.Context, id uuid.UUID, from domain.ExecutionStatus, upd domain.ExecutionUpdate) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		e, ok := s.executions[id]
		if !ok || e.Status != from {
			return ports.ErrConflict
		}
		if !domain.CanTransition(from, upd.Status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, upd.Status)
		}
		upd.Result = maps.Clone(upd.Result)
		upd.Apply(&e, s.now())
		s.executions[id] = e
		return nil
	})
}

func (s *Store) CountExecutionsForUser(ctx context.Context, userID string, status domain.ExecutionStatus) (int64, error) {
	return withContext(ctx, func() (int64, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var n int64
		for _, e := range s.executions {
			if e.Status != status {
				continue
			}
			if inst, ok := s.instances[e.InstanceID]; ok && inst.UserID == userID {
				n++
			}
		}
		return n, nil
	})
}

func (s *Store) CreateNotification(ctx context.Context, n *domain.HITLNotification) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.notifications[n.ID] = *n
		return nil
	})
}

func (s *Store) ResolveNotifications(ctx context.Context, executionID uuid.UUID, status domain.NotificationStatus, resolvedBy string, at time.Time) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, n := range s.notifications {
			if n.ExecutionID != executionID || n.Status != domain.NotificationOpen {
				continue
			}
			by := resolvedBy
			resolvedAt := at
			n.Status = status
			n.ResolvedBy = &by
			n.ResolvedAt = &resolvedAt
			n.UpdatedAt = at
			s.notifications[id] = n
		}
		return nil
	})
}

func (s *Store) ListOpenNotifications(ctx context.Context, userID string) ([]domain.HITLNotification, error) {
	return withContext(ctx, func() ([]domain.HITLNotification, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []domain.HITLNotification
		for _, n := range s.notifications {
			if n.UserID == userID && n.Status == domain.NotificationOpen {
				out = append(out, n)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	})
}

// Notifications returns every notification of an execution regardless of status.
func (s *Store) Notifications(executionID uuid.UUID) []domain.HITLNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HITLNotification
	for _, n := range s.notifications {
		if n.ExecutionID == executionID {
			out = append(out, n)
		}
	}
	return out
}

func cloneInstance(inst domain.WorkflowInstance) domain.WorkflowInstance {
	inst.Metadata = maps.Clone(inst.Metadata)
	return inst
}

func cloneExecution(e domain.TaskExecution) domain.TaskExecution {
	e.Result = maps.Clone(e.Result)
	return e
}

func sortBySchedule(execs []domain.TaskExecution) {
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].ScheduledFor.Before(execs[j].ScheduledFor)
	})
}
