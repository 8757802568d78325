package database

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
	if err := Ping(db); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hycredit.db")
	db, err := Open(Config{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("open file database: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := Prepare(db); err != nil {
		t.Fatalf("prepare: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestPrepareCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	if err := Prepare(db); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	for _, model := range []any{
		&models.Party{},
		&models.CreditRequest{},
		&models.RequestDocument{},
		&models.Credit{},
		&models.OwnershipEntry{},
		&models.AuditLog{},
	} {
		if !db.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}
	if !db.Migrator().HasColumn(&models.CreditRequest{}, "data_batch_id") {
		t.Fatal("expected embedded request data columns")
	}
	if !db.Migrator().HasColumn(&models.CreditRequest{}, "data_period_end_date") {
		t.Fatal("expected nested embedded period columns")
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := Open(Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})
	return db
}
