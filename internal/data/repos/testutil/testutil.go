package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/andrewdyar/switchyard-sub001/internal/data/db"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// DB returns a migrated catalog database private to the test. It uses
// TEST_POSTGRES_DSN when set and a throwaway sqlite file otherwise.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var (
		conn *gorm.DB
		err  error
	)
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		conn, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			tb.Fatalf("open postgres: %v", err)
		}
		if err := conn.Exec(`DROP TABLE IF EXISTS product_pricing, product_store_mapping, product, category`).Error; err != nil {
			tb.Fatalf("reset postgres: %v", err)
		}
	} else {
		name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
		path := filepath.Join(tb.TempDir(), name+".db")
		conn, err = gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), cfg)
		if err != nil {
			tb.Fatalf("open sqlite: %v", err)
		}
		sqlDB, err := conn.DB()
		if err != nil {
			tb.Fatalf("sqlite handle: %v", err)
		}
		// One connection keeps sqlite writers from tripping over each other.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrateAll(conn); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
