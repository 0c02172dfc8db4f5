package repository

import (
	"context"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) ports.NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateNotification(ctx context.Context, n *domain.HITLNotification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) ResolveNotifications(ctx context.Context, executionID uuid.UUID, status domain.NotificationStatus, resolvedBy string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.HITLNotification{}).
		Where("execution_id = ? AND status = ?", executionID, domain.NotificationOpen).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		}).Error
}

func (r *notificationRepository) ListOpenNotifications(ctx context.Context, userID string) ([]domain.HITLNotification, error) {
	var out []domain.HITLNotification
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.NotificationOpen).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
