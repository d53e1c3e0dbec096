package domain

import (
	"errors"
	"testing"
)

func TestFormState_Transitions(t *testing.T) {
	f := &Form{State: StateNew}

	if err := f.Disable(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("disable new form: want ErrIllegalTransition, got %v", err)
	}
	if err := f.MarkConfirmationSent(); err != nil || f.State != StatePending {
		t.Fatalf("mark sent: state=%s err=%v", f.State, err)
	}
	if err := f.MarkConfirmationSent(); err != nil || f.State != StatePending {
		t.Fatalf("mark sent twice: state=%s err=%v", f.State, err)
	}

	f.Confirm()
	if f.State != StateActive || !f.Confirmed() {
		t.Fatalf("confirm: state=%s", f.State)
	}
	if err := f.MarkConfirmationSent(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("mark sent on active: want ErrIllegalTransition, got %v", err)
	}

	if err := f.Disable(); err != nil || !f.Disabled() || !f.Confirmed() {
		t.Fatalf("disable: state=%s err=%v", f.State, err)
	}
	f.Confirm() // no-op
	if f.State != StateDisabled {
		t.Fatalf("confirm must not re-enable, state=%s", f.State)
	}
	if err := f.Enable(); err != nil || f.State != StateActive {
		t.Fatalf("enable: state=%s err=%v", f.State, err)
	}

	if err := f.Unconfirm(); err != nil || f.State != StatePending {
		t.Fatalf("unconfirm: state=%s err=%v", f.State, err)
	}
	if err := f.Enable(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("enable pending: want ErrIllegalTransition, got %v", err)
	}
	if err := (&Form{State: StateNew}).Unconfirm(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("unconfirm new: want ErrIllegalTransition, got %v", err)
	}
}

func TestFormState_Scan(t *testing.T) {
	var s FormState
	if err := s.Scan([]byte("active")); err != nil || s != StateActive {
		t.Fatalf("scan bytes: %v %v", s, err)
	}
	if err := s.Scan(nil); err != nil || s != StateNew {
		t.Fatalf("scan nil: %v %v", s, err)
	}
	if err := s.Scan("confirmed"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
	if _, err := FormState("bogus").Value(); err == nil {
		t.Fatalf("expected Value error for unknown state")
	}
}
