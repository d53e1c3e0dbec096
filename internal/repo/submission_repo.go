// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for archived
// submissions.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
)

// CreateSubmission archives s.
func CreateSubmission(ctx context.Context, db *gorm.DB, s *domain.Submission) error {
	return db.WithContext(ctx).Create(s).Error
}

// CountSubmissions returns how many submissions are archived for formID.
func CountSubmissions(ctx context.Context, db *gorm.DB, formID uint) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Submission{}).
		Where("form_id = ?", formID).
		Count(&total).Error
	return total, err
}

// ListSubmissionsPage returns a page of formID's submissions, newest first.
func ListSubmissionsPage(ctx context.Context, db *gorm.DB, formID uint, offset, limit int) ([]domain.Submission, error) {
	var out []domain.Submission
	err := db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("submitted_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteSubmission removes one submission of formID and decrements the
// form's counter. It returns ErrNotFound if the submission does not belong
// to the form.
func DeleteSubmission(ctx context.Context, db *gorm.DB, formID, id uint) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND form_id = ?", id, formID).Delete(&domain.Submission{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&domain.Form{}).
			Where("id = ? AND counter > 0", formID).
			UpdateColumn("counter", gorm.Expr("counter - ?", 1)).Error
	})
}

// PruneSubmissions deletes all but the newest keep submissions of formID and
// returns how many rows were removed.
//
// The boundary row is looked up first because MySQL rejects LIMIT inside an
// IN subquery.
func PruneSubmissions(ctx context.Context, db *gorm.DB, formID uint, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	db = db.WithContext(ctx)

	if keep == 0 {
		res := db.Where("form_id = ?", formID).Delete(&domain.Submission{})
		return res.RowsAffected, res.Error
	}

	var boundary domain.Submission
	err := db.Where("form_id = ?", formID).
		Order("submitted_at desc, id desc").
		Offset(keep - 1).
		Limit(1).
		Take(&boundary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res := db.
		Where("form_id = ?", formID).
		Where("submitted_at < ? OR (submitted_at = ? AND id < ?)", boundary.SubmittedAt, boundary.SubmittedAt, boundary.ID).
		Delete(&domain.Submission{})
	return res.RowsAffected, res.Error
}

// FormsOverArchiveLimit returns the ids of forms holding more than limit
// archived submissions.
func FormsOverArchiveLimit(ctx context.Context, db *gorm.DB, limit int) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).
		Model(&domain.Submission{}).
		Select("form_id").
		Group("form_id").
		Having("COUNT(*) > ?", limit).
		Order("form_id").
		Pluck("form_id", &ids).Error
	return ids, err
}
