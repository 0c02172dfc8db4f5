package repository

import (
	"context"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type templateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) ports.TemplateRepository {
	return &templateRepository{db: db}
}

// SaveTemplate upserts the template and its tasks.
func (r *templateRepository) SaveTemplate(ctx context.Context, tmpl *domain.WorkflowTemplate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tasks").Clauses(clause.OnConflict{UpdateAll: true}).Create(tmpl).Error; err != nil {
			return err
		}
		for i := range tmpl.Tasks {
			tmpl.Tasks[i].TemplateID = tmpl.ID
		}
		if len(tmpl.Tasks) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&tmpl.Tasks).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *templateRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	var tmpl domain.WorkflowTemplate
	err := r.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Where("id = ?", id).
		First(&tmpl).Error
	if err != nil {
		return nil, translate(err)
	}
	return &tmpl, nil
}

func (r *templateRepository) CountTemplates(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.WorkflowTemplate{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
