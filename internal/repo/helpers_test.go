package repo

import (
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/formrelay/formrelay/internal/domain"
)

// newTestDB opens a private in-memory database. With no models given, the
// full schema is migrated.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) == 0 {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
		return db
	}
	if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedForm(t *testing.T, db *gorm.DB, f domain.Form) *domain.Form {
	t.Helper()
	if f.State == "" {
		f.State = domain.StateNew
	}
	if err := db.Create(&f).Error; err != nil {
		t.Fatalf("seed form: %v", err)
	}
	return &f
}

func strptr(s string) *string { return &s }
func uintPtr(u uint) *uint    { return &u }
