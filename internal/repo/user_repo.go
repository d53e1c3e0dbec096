// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for accounts and
// their verified email addresses.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
)

// CreateUser inserts an account and records its login address as verified.
// It returns ErrDuplicate when the address is already registered.
func CreateUser(ctx context.Context, db *gorm.DB, email, plan string) (*domain.User, error) {
	u := &domain.User{Email: email, Plan: plan}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		return tx.Create(&domain.Email{Address: email, OwnerID: u.ID}).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches an account by id.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches an account by its login address.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// AddEmail records address as verified for ownerID.
func AddEmail(ctx context.Context, db *gorm.DB, ownerID uint, address string) error {
	if err := db.WithContext(ctx).Create(&domain.Email{Address: address, OwnerID: ownerID}).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListFormControllers returns the accounts that control f: its creator and
// every account holding a verified address equal to f.Email.
func ListFormControllers(ctx context.Context, db *gorm.DB, f *domain.Form) ([]domain.User, error) {
	sub := db.Model(&domain.Email{}).Select("owner_id").Where("address = ?", f.Email)
	q := db.WithContext(ctx).Where("id IN (?)", sub)
	if f.OwnerID != nil {
		q = db.WithContext(ctx).Where("id = ? OR id IN (?)", *f.OwnerID, sub)
	}
	var out []domain.User
	err := q.Order("id").Find(&out).Error
	return out, err
}
