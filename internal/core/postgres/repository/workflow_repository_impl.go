package repository

import (
	"context"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type workflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates the instance repository.
func NewWorkflowRepository(db *gorm.DB) ports.InstanceRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance, execs []domain.TaskExecution) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inst).Error; err != nil {
			return err
		}

		if len(execs) > 0 {
			if err := tx.Create(&execs).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *workflowRepository) GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&inst).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inst, nil
}

// TransitionInstance guards the status in the WHERE clause. When several
// terminal tasks finish at once each of them re-checks completion, and only
// the first update lands; the rest see ErrConflict.
func (r *workflowRepository) TransitionInstance(ctx context.Context, id uuid.UUID, from, to domain.InstanceStatus, completedAt *time.Time) error {
	cols := map[string]interface{}{"status": to}
	if completedAt != nil {
		cols["completed_at"] = *completedAt
	}

	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowInstance{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (r *workflowRepository) CountInstances(ctx context.Context, userID string, status domain.InstanceStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.WorkflowInstance{}).
		Where("user_id = ? AND status = ?", userID, status).
		Count(&count).Error
	return count, err
}
