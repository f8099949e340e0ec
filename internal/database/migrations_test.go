package database

import (
	"fmt"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/relatim/backend/internal/chat"
	"github.com/relatim/backend/internal/directory"
)

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relatim-test.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"users", "contacts", "conversations", "messages", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	// Re-opening the same file must not re-run recorded migrations.
	var before int64
	if err := db.Model(&migrationRecord{}).Count(&before).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	reopened, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	var after int64
	if err := reopened.Model(&migrationRecord{}).Count(&after).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if before != after {
		t.Fatalf("expected migration ledger to be stable, got %d then %d rows", before, after)
	}
}

func TestBackfillContactUserLinksMigration(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&directory.User{}, &directory.Contact{}, &chat.Conversation{}, &chat.Message{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	if err := db.Create(&directory.User{ID: "user-1", Phone: "+15550001", Name: "Alice"}).Error; err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	if err := db.Create(&directory.Contact{ID: "contact-1", OwnerUserID: "user-9", ContactName: "Alice", ContactPhone: "+15550001"}).Error; err != nil {
		t.Fatalf("failed to insert matching contact: %v", err)
	}
	if err := db.Create(&directory.Contact{ID: "contact-2", OwnerUserID: "user-9", ContactName: "Nobody", ContactPhone: "+15559999"}).Error; err != nil {
		t.Fatalf("failed to insert unmatched contact: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	var linked directory.Contact
	if err := db.Where("id = ?", "contact-1").Take(&linked).Error; err != nil {
		t.Fatalf("failed to read contact: %v", err)
	}
	if linked.ContactUserID == nil || *linked.ContactUserID != "user-1" {
		t.Fatalf("expected contact linked to user-1, got %v", linked.ContactUserID)
	}

	var unmatched directory.Contact
	if err := db.Where("id = ?", "contact-2").Take(&unmatched).Error; err != nil {
		t.Fatalf("failed to read contact: %v", err)
	}
	if unmatched.ContactUserID != nil {
		t.Fatalf("expected unmatched contact to stay unlinked, got %v", *unmatched.ContactUserID)
	}
}
