package domain

import "time"

// Idempotency binds an owner's Idempotency-Key to the form its first request
// created. Rows are unique per (owner_id, scope, key) and live until
// ExpiresAt.
type Idempotency struct {
	ID      string `gorm:"type:varchar(36);primaryKey"`
	OwnerID uint   `gorm:"not null;uniqueIndex:ux_owner_scope_key,priority:1"`
	Scope   string `gorm:"type:varchar(64);not null;uniqueIndex:ux_owner_scope_key,priority:2"`
	Key     string `gorm:"type:varchar(200);not null;uniqueIndex:ux_owner_scope_key,priority:3"`
	// Fingerprint is a digest of the request payload the key was first used
	// with. A retry carrying a different payload is not a retry.
	Fingerprint string    `gorm:"type:varchar(64);not null;default:''"`
	FormID      uint      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Matches reports whether fp is the payload this key was recorded with.
// Rows without a fingerprint match anything.
func (r *Idempotency) Matches(fp string) bool {
	return r.Fingerprint == "" || r.Fingerprint == fp
}

// Live reports whether the record can still be replayed at now.
func (r *Idempotency) Live(now time.Time) bool { return now.Before(r.ExpiresAt) }
