package repo

import (
	"context"
	"testing"
	"time"

	"github.com/formrelay/formrelay/internal/domain"
)

func TestFormsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	_, _, err := FormsStats(context.Background(), db, 1)
	if err == nil {
		t.Fatalf("expected error due to missing forms table")
	}
}

func TestFormsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t)
	count, maxAt, err := FormsStats(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("FormsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestFormsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u1, err := CreateUser(ctx, db, "one@example.com", "gold")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u2, err := CreateUser(ctx, db, "two@example.com", "gold")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // other owner

	seedForm(t, db, domain.Form{Email: "a@example.com", OwnerID: uintPtr(u1.ID), CreatedAt: t1, UpdatedAt: t1})
	seedForm(t, db, domain.Form{Email: "b@example.com", OwnerID: uintPtr(u1.ID), CreatedAt: t2, UpdatedAt: t2})
	seedForm(t, db, domain.Form{Email: "c@example.com", OwnerID: uintPtr(u2.ID), CreatedAt: t3, UpdatedAt: t3})

	count, maxAt, err := FormsStats(ctx, db, u1.ID)
	if err != nil {
		t.Fatalf("FormsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxUpdatedAt %v, got %v", t2, maxAt)
	}
}

// Force the second query (SELECT updated_at ...) to fail by renaming the column.
func TestFormsStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.Form{})
	seedForm(t, db, domain.Form{Email: "a@example.com", OwnerID: uintPtr(7)})

	if err := db.Exec(`ALTER TABLE forms RENAME COLUMN updated_at TO updated_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, err := FormsStats(context.Background(), db, 7)
	if err == nil {
		t.Fatalf("expected error from latest-updated select after column rename")
	}
}

func TestSubmissionsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t)
	f := seedForm(t, db, domain.Form{Email: "a@example.com"})
	count, maxAt, err := SubmissionsStats(context.Background(), db, f.ID)
	if err != nil {
		t.Fatalf("SubmissionsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestSubmissionsStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fa := seedForm(t, db, domain.Form{Email: "a@example.com"})
	fb := seedForm(t, db, domain.Form{Email: "b@example.com"})

	t1 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 4, 1, 12, 5, 0, 0, time.UTC) // max for fa
	t3 := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)  // other form

	for _, s := range []domain.Submission{
		{FormID: fa.ID, SubmittedAt: t1, Data: domain.Fields{{Name: "n", Value: "1"}}},
		{FormID: fa.ID, SubmittedAt: t2, Data: domain.Fields{{Name: "n", Value: "2"}}},
		{FormID: fb.ID, SubmittedAt: t3, Data: domain.Fields{{Name: "n", Value: "3"}}},
	} {
		s := s
		if err := CreateSubmission(ctx, db, &s); err != nil {
			t.Fatalf("seed submission: %v", err)
		}
	}

	count, maxAt, err := SubmissionsStats(ctx, db, fa.ID)
	if err != nil {
		t.Fatalf("SubmissionsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxSubmittedAt %v, got %v", t2, maxAt)
	}
}
