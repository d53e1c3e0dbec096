package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
)

// FormsStats returns how many dashboard forms ownerID has and the newest
// UpdatedAt among them (nil when there are none). The owner API builds its
// list ETag from the pair.
func FormsStats(ctx context.Context, db *gorm.DB, ownerID uint) (int64, *time.Time, error) {
	q := db.WithContext(ctx).Model(&domain.Form{}).Where("owner_id = ?", ownerID)
	return countAndNewest(q, "updated_at")
}

// SubmissionsStats returns the archive size of formID and its newest
// SubmittedAt. Archived rows are immutable, so the pair moves whenever one is
// added, pruned or deleted.
func SubmissionsStats(ctx context.Context, db *gorm.DB, formID uint) (int64, *time.Time, error) {
	q := db.WithContext(ctx).Model(&domain.Submission{}).Where("form_id = ?", formID)
	return countAndNewest(q, "submitted_at")
}

// countAndNewest orders and limits instead of selecting MAX(col), which
// SQLite returns as TEXT.
func countAndNewest(q *gorm.DB, col string) (int64, *time.Time, error) {
	var n int64
	if err := q.Session(&gorm.Session{}).Count(&n).Error; err != nil || n == 0 {
		return 0, nil, err
	}
	var newest []time.Time
	if err := q.Session(&gorm.Session{}).Order(col+" DESC").Limit(1).Pluck(col, &newest).Error; err != nil {
		return 0, nil, err
	}
	if len(newest) == 0 {
		return n, nil, nil
	}
	return n, &newest[0], nil
}
