package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillContactUserLinks = "2026-08-28_backfill_contact_user_links"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillContactUserLinks, apply: backfillContactUserLinks},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillContactUserLinks repairs contact rows written before links were
// backfilled on login: any unlinked contact whose phone matches a
// registered user gets the link set.
func backfillContactUserLinks(db *gorm.DB) error {
	return db.Exec(`
		UPDATE contacts
		SET contact_user_id = (SELECT id FROM users WHERE users.phone = contacts.contact_phone)
		WHERE contact_user_id IS NULL
		  AND EXISTS (SELECT 1 FROM users WHERE users.phone = contacts.contact_phone)
	`).Error
}
