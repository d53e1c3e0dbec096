// Package domain defines the persistence models for forms, archived
// submissions and the accounts that control them. These types are mapped
// with GORM and shared across the repository and service layers.
package domain

import (
	"time"
)

// Form is the logical submission target: one destination email bound to one
// origin host.
//
// Fields:
//   - ID: numeric primary key; the public hash-id and unsubscribe digest are
//     derived from it.
//   - Hash: deterministic keyed hash of (email, host) for spontaneous forms;
//     nil for dashboard forms so the two kinds never collide.
//   - Email: destination address.
//   - Host: bound origin (netloc + path); empty until the first submission.
//   - Sitewide: host binding is a prefix match on the whole domain.
//   - State: lifecycle state (see FormState).
//   - Counter: lifetime number of counted submissions.
//   - UsesAjax: calling convention pinned by the first submission.
//   - OwnerID: account that created the form from the dashboard.
type Form struct {
	ID              uint      `json:"-"                gorm:"primaryKey"`
	Hash            *string   `json:"-"                gorm:"type:varchar(32);uniqueIndex:ux_forms_hash"`
	Email           string    `json:"email"            gorm:"type:varchar(320);not null;index:idx_forms_email"`
	Host            string    `json:"host"             gorm:"type:varchar(512);not null;default:''"`
	Sitewide        bool      `json:"sitewide"         gorm:"not null;default:false"`
	State           FormState `json:"state"            gorm:"type:varchar(16);not null;default:'new'"`
	CaptchaDisabled bool      `json:"captcha_disabled" gorm:"not null;default:false"`
	DisableEmail    bool      `json:"disable_email"    gorm:"not null;default:false"`
	DisableStorage  bool      `json:"disable_storage"  gorm:"not null;default:false"`
	UsesAjax        *bool     `json:"uses_ajax"`
	Counter         int       `json:"counter"          gorm:"not null;default:0"`
	OwnerID         *uint     `json:"-"                gorm:"index:idx_forms_owner"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Submissions []Submission `json:"-" gorm:"foreignKey:FormID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Form.
func (Form) TableName() string { return "forms" }

// IsDashboard reports whether the form was created by an authenticated owner
// rather than by its first submission.
func (f *Form) IsDashboard() bool { return f.Hash == nil }

// Confirmed reports whether the destination email has been confirmed.
func (f *Form) Confirmed() bool {
	return f.State == StateActive || f.State == StateDisabled
}

// Disabled reports whether the owner turned the form off.
func (f *Form) Disabled() bool { return f.State == StateDisabled }

// Submission is one archived, accepted submission.
type Submission struct {
	ID          uint      `json:"id"           gorm:"primaryKey"`
	FormID      uint      `json:"-"            gorm:"not null;index:idx_submissions_form,priority:1"`
	SubmittedAt time.Time `json:"submitted_at" gorm:"not null;index:idx_submissions_form,priority:2"`
	Data        Fields    `json:"data"         gorm:"type:text;serializer:json"`
}

// TableName returns the database table name for Submission.
func (Submission) TableName() string { return "submissions" }

// User is an account that may own dashboard forms and hold plan features.
type User struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Email     string    `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	Plan      string    `json:"plan"       gorm:"type:varchar(32);not null;default:'free'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Emails []Email `json:"emails,omitempty" gorm:"foreignKey:OwnerID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Email is a verified address belonging to a user. Holding a verified address
// equal to a form's email makes the user one of the form's controllers.
type Email struct {
	Address   string    `json:"address"    gorm:"type:varchar(320);primaryKey"`
	OwnerID   uint      `json:"-"          gorm:"primaryKey;index:idx_emails_owner"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Email.
func (Email) TableName() string { return "emails" }

// EmailTemplate customizes the notification sent for a form.
// Body is Markdown with {{ field }} placeholders.
type EmailTemplate struct {
	FormID    uint      `json:"-"         gorm:"primaryKey"`
	Subject   string    `json:"subject"   gorm:"type:varchar(255);not null;default:''"`
	FromName  string    `json:"from_name" gorm:"type:varchar(255);not null;default:''"`
	Style     string    `json:"style"     gorm:"type:text"`
	Body      string    `json:"body"      gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`

	Form Form `json:"-" gorm:"foreignKey:FormID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for EmailTemplate.
func (EmailTemplate) TableName() string { return "email_templates" }
