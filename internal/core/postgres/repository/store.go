package repository

import (
	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type store struct {
	ports.TemplateRepository
	ports.InstanceRepository
	ports.ExecutionRepository
	ports.NotificationRepository
}

// NewStore bundles the gorm repositories into a ports.Store.
func NewStore(db *gorm.DB) ports.Store {
	return &store{
		TemplateRepository:     NewTemplateRepository(db),
		InstanceRepository:     NewWorkflowRepository(db),
		ExecutionRepository:    NewTaskRepository(db),
		NotificationRepository: NewNotificationRepository(db),
	}
}

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// Migrate creates or updates the engine tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.WorkflowTemplate{},
		&domain.Task{},
		&domain.WorkflowInstance{},
		&domain.TaskExecution{},
		&domain.HITLNotification{},
	)
}
