// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-form
// email templates.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/formrelay/formrelay/internal/domain"
)

// GetTemplate returns the custom template for formID or ErrNotFound.
func GetTemplate(ctx context.Context, db *gorm.DB, formID uint) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	if err := db.WithContext(ctx).Where("form_id = ?", formID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTemplate creates or replaces the template for t.FormID.
func UpsertTemplate(ctx context.Context, db *gorm.DB, t *domain.EmailTemplate) error {
	return db.WithContext(ctx).
		Omit("Form").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "form_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "from_name", "style", "body", "updated_at"}),
		}).
		Create(t).Error
}

// DeleteTemplate removes the template for formID. It returns ErrNotFound
// when none existed.
func DeleteTemplate(ctx context.Context, db *gorm.DB, formID uint) error {
	res := db.WithContext(ctx).Where("form_id = ?", formID).Delete(&domain.EmailTemplate{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
