// Package quota keeps the per-form monthly submission counters and decides
// when a form is approaching or past its plan limit.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/formrelay/formrelay/internal/kv"
)

// Counter maintains monthly counters in an ephemeral store. Counters live
// under monthly_{form_id}_{YYYYMM} and expire twelve months after the month
// they count.
type Counter struct {
	Store kv.Store
	Now   func() time.Time
}

// NewCounter returns a Counter on the wall clock.
func NewCounter(store kv.Store) *Counter {
	return &Counter{Store: store, Now: time.Now}
}

func (c *Counter) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Key returns the counter key for formID in the month containing t.
func Key(formID uint, t time.Time) string {
	return fmt.Sprintf("monthly_%d_%s", formID, t.UTC().Format("200601"))
}

// ExpiresAt is the first instant of the month twelve months after t.
func ExpiresAt(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year()+1, t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Incr bumps this month's counter for formID and returns the new count.
func (c *Counter) Incr(ctx context.Context, formID uint) (int64, error) {
	now := c.now()
	return c.Store.IncrExpireAt(ctx, Key(formID, now), ExpiresAt(now))
}

// Get returns this month's count for formID.
func (c *Counter) Get(ctx context.Context, formID uint) (int64, error) {
	v, err := c.Store.Get(ctx, Key(formID, c.now()))
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Reset drops this month's counter for formID.
func (c *Counter) Reset(ctx context.Context, formID uint) error {
	return c.Store.Del(ctx, Key(formID, c.now()))
}

// Limits describes the monthly limit policy.
//
// Forms whose id is at or below Cutoff keep the older Grandfathered limit;
// newer forms get Default. A warning goes out when the count reaches
// WarningFraction of the limit and over-quota notices stop after
// NoticeQuantity submissions past the limit.
type Limits struct {
	Default         int
	Grandfathered   int
	Cutoff          uint
	WarningFraction float64
	NoticeQuantity  int
}

// For returns the monthly limit that applies to formID.
func (l Limits) For(formID uint) int {
	if formID <= l.Cutoff && l.Grandfathered > 0 {
		return l.Grandfathered
	}
	return l.Default
}

// WarningAt is the count at which the approaching-limit notice is sent, or 0
// when warnings are off.
func (l Limits) WarningAt(limit int) int64 {
	if l.WarningFraction <= 0 || l.WarningFraction >= 1 {
		return 0
	}
	return int64(float64(limit) * l.WarningFraction)
}

// Over reports whether count exceeds limit.
func (l Limits) Over(count int64, limit int) bool {
	return count > int64(limit)
}

// ShouldNotice reports whether an over-quota submission at count still earns
// the owner a notice.
func (l Limits) ShouldNotice(count int64, limit int) bool {
	return count <= int64(limit)+int64(l.NoticeQuantity)
}
