// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Form model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a form is not found, functions return ErrNotFound.
//   - A unique violation (two spontaneous forms with the same hash) is
//     reported as ErrDuplicate so callers can re-read the winner.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique constraint violation.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate recognizes unique violations across drivers; glebarez/sqlite
// often returns plain-text errors for them.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate entry")
}

// CreateForm inserts f. It returns ErrDuplicate when a form with the same
// hash already exists.
func CreateForm(ctx context.Context, db *gorm.DB, f *domain.Form) error {
	if f.State == "" {
		f.State = domain.StateNew
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetFormByHash fetches the spontaneous form with the given hash.
func GetFormByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Form, error) {
	var f domain.Form
	if err := db.WithContext(ctx).Where("hash = ?", hash).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFormByID fetches a form by primary key.
func GetFormByID(ctx context.Context, db *gorm.DB, id uint) (*domain.Form, error) {
	var f domain.Form
	if err := db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveFormState persists f.State.
func SaveFormState(ctx context.Context, db *gorm.DB, f *domain.Form) error {
	return UpdateForm(ctx, db, f.ID, map[string]any{"state": f.State})
}

// UpdateForm applies column updates to the form identified by id. It returns
// ErrNotFound when no row matched.
func UpdateForm(ctx context.Context, db *gorm.DB, id uint, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Form{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BindHost records the host a form is bound to and the calling convention
// of its first submission. Only an unbound form is updated, so concurrent
// first submissions cannot overwrite each other; the returned bool reports
// whether this call won.
func BindHost(ctx context.Context, db *gorm.DB, id uint, host string, usesAjax bool) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Form{}).
		Where("id = ? AND host = ''", id).
		Updates(map[string]any{"host": host, "uses_ajax": usesAjax})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementCounter adds one to the form's lifetime counter.
func IncrementCounter(ctx context.Context, db *gorm.DB, id uint) error {
	return db.WithContext(ctx).
		Model(&domain.Form{}).
		Where("id = ?", id).
		UpdateColumn("counter", gorm.Expr("counter + ?", 1)).Error
}

// CountFormsByOwner returns how many dashboard forms ownerID created.
func CountFormsByOwner(ctx context.Context, db *gorm.DB, ownerID uint) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Form{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error
	return total, err
}

// ListFormsByOwner returns a page of ownerID's forms, newest first.
func ListFormsByOwner(ctx context.Context, db *gorm.DB, ownerID uint, offset, limit int) ([]domain.Form, error) {
	var out []domain.Form
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListConfirmedFormsByEmail returns every confirmed form delivering to email,
// in id order.
func ListConfirmedFormsByEmail(ctx context.Context, db *gorm.DB, email string) ([]domain.Form, error) {
	var out []domain.Form
	err := db.WithContext(ctx).
		Where("email = ? AND state IN ?", email, []domain.FormState{domain.StateActive, domain.StateDisabled}).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// DeleteForm removes a form together with its submissions and template.
func DeleteForm(ctx context.Context, db *gorm.DB, id uint) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("form_id = ?", id).Delete(&domain.Submission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("form_id = ?", id).Delete(&domain.EmailTemplate{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Form{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
