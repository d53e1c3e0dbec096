package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a lifecycle change is not allowed
// from the form's current state.
var ErrIllegalTransition = errors.New("illegal form state transition")

// FormState is the lifecycle of a form. A single tagged value replaces the
// confirmed/confirm_sent/disabled booleans so that combinations such as
// disabled-and-pending cannot be stored.
type FormState string

const (
	// StateNew: no confirmation email has been sent yet.
	StateNew FormState = "new"
	// StatePending: confirmation sent, waiting for the owner to click it.
	StatePending FormState = "pending"
	// StateActive: confirmed, submissions are relayed.
	StateActive FormState = "active"
	// StateDisabled: confirmed but switched off by the owner.
	StateDisabled FormState = "disabled"
)

// Valid reports whether s is one of the known states.
func (s FormState) Valid() bool {
	switch s {
	case StateNew, StatePending, StateActive, StateDisabled:
		return true
	}
	return false
}

// Value implements driver.Valuer.
func (s FormState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid form state %q", string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *FormState) Scan(v any) error {
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case []byte:
		raw = string(t)
	case nil:
		*s = StateNew
		return nil
	default:
		return fmt.Errorf("cannot scan %T into FormState", v)
	}
	st := FormState(raw)
	if !st.Valid() {
		return fmt.Errorf("invalid form state %q", raw)
	}
	*s = st
	return nil
}

// MarkConfirmationSent records that a confirmation email went out.
func (f *Form) MarkConfirmationSent() error {
	switch f.State {
	case StateNew, StatePending:
		f.State = StatePending
		return nil
	}
	return ErrIllegalTransition
}

// Confirm activates a form whose email has been confirmed. Confirming an
// active or disabled form changes nothing.
func (f *Form) Confirm() {
	if f.State == StateNew || f.State == StatePending {
		f.State = StateActive
	}
}

// Unconfirm returns a confirmed form to pending, which stops relaying until
// the email is confirmed again.
func (f *Form) Unconfirm() error {
	switch f.State {
	case StateActive, StateDisabled:
		f.State = StatePending
		return nil
	case StatePending:
		return nil
	}
	return ErrIllegalTransition
}

// Disable switches an active form off.
func (f *Form) Disable() error {
	switch f.State {
	case StateActive:
		f.State = StateDisabled
		return nil
	case StateDisabled:
		return nil
	}
	return ErrIllegalTransition
}

// Enable switches a disabled form back on.
func (f *Form) Enable() error {
	switch f.State {
	case StateDisabled:
		f.State = StateActive
		return nil
	case StateActive:
		return nil
	}
	return ErrIllegalTransition
}
