// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and MySQL, and schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/formrelay/formrelay/internal/domain"
)

// Options selects and tunes the durable store.
type Options struct {
	// Driver is "sqlite" (the default) or "mysql".
	Driver string
	// Path is the SQLite file; its directory must exist.
	Path string
	// DSN is the MySQL data source name and should carry parseTime=true.
	DSN string
	// SlowQuery logs statements slower than this at warn. Defaults to 200ms.
	SlowQuery time.Duration
}

// Open opens the store selected by opts and attaches the OpenTelemetry
// tracing plugin. GORM's own log lines go to the global zerolog logger.
func Open(opts Options) (*gorm.DB, error) {
	slow := opts.SlowQuery
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	gcfg := &gorm.Config{
		Logger: logger.New(zerologWriter{}, logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		}),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		db, err = openSQLite(opts.Path, gcfg)
	case "mysql":
		db, err = openMySQL(opts.DSN, gcfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("gorm tracing plugin: %w", err)
	}
	return db, nil
}

// zerologWriter adapts GORM's printf-style logger to zerolog. Parameterized
// queries keep submitted field values out of the log.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	// sqlite reports a missing directory as "out of memory (14)"
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func openMySQL(dsn string, gcfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// AutoMigrate creates or updates every table the service uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Form{},
		&domain.Submission{},
		&domain.User{},
		&domain.Email{},
		&domain.EmailTemplate{},
		&domain.Idempotency{},
	)
}
