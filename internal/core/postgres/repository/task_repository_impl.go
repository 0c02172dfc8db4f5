package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates the execution repository.
func NewTaskRepository(db *gorm.DB) ports.ExecutionRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) GetExecution(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	var exec domain.TaskExecution
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&exec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &exec, nil
}

func (r *taskRepository) FindExecution(ctx context.Context, instanceID, taskID uuid.UUID) (*domain.TaskExecution, error) {
	var exec domain.TaskExecution
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND task_id = ?", instanceID, taskID).
		First(&exec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &exec, nil
}

func (r *taskRepository) ListExecutions(ctx context.Context, instanceID uuid.UUID) ([]domain.TaskExecution, error) {
	var execs []domain.TaskExecution
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("scheduled_for ASC").
		Find(&execs).Error
	return execs, err
}

func (r *taskRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskExecution, error) {
	active := r.db.Model(&domain.WorkflowInstance{}).
		Select("id").
		Where("status = ?", domain.InstanceActive)

	query := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.StatusPending, now).
		Where("instance_id IN (?)", active).
		Order("scheduled_for ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var execs []domain.TaskExecution
	err := query.Find(&execs).Error
	return execs, err
}

// TransitionExecution is a single conditional UPDATE, so two workers racing
// on the same execution cannot both win.
func (r *taskRepository) TransitionExecution(ctx context.Context, id uuid.UUID, from domain.ExecutionStatus, upd domain.ExecutionUpdate) error {
	if !domain.CanTransition(from, upd.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, upd.Status)
	}

	result := r.db.WithContext(ctx).
		Model(&domain.TaskExecution{}).
		Where("id = ? AND status = ?", id, from).
		Updates(upd.Columns())

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ports.ErrConflict
	}

	return nil
}

func (r *taskRepository) CountExecutionsForUser(ctx context.Context, userID string, status domain.ExecutionStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.TaskExecution{}).
		Joins("JOIN workflow_instances ON workflow_instances.id = task_executions.instance_id").
		Where("workflow_instances.user_id = ? AND task_executions.status = ?", userID, status).
		Count(&count).Error

	return count, err
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ports.ErrNotFound
	}
	return err
}
