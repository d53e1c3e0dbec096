package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
)

// GetIdempotency returns the live record for (ownerID, scope, key) or
// ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, ownerID uint, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where(&domain.Idempotency{OwnerID: ownerID, Scope: scope, Key: key}).
		Where("expires_at > ?", now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency stores rec with an id and an expiry ttl from now. A live
// row under the same (owner, scope, key) yields ErrDuplicate. An expired one
// is replaced so the key can be reused.
func SaveIdempotency(ctx context.Context, db *gorm.DB, rec *domain.Idempotency, now time.Time, ttl time.Duration) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(&domain.Idempotency{OwnerID: rec.OwnerID, Scope: rec.Scope, Key: rec.Key}).
			Where("expires_at <= ?", now).
			Delete(&domain.Idempotency{}).Error
		if err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// DeleteIdempotency removes one record by id.
func DeleteIdempotency(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Delete(&domain.Idempotency{ID: id}).Error
}

// PurgeExpiredIdempotency deletes records that expired at or before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
