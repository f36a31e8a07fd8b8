/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"gorm.io/gorm"

	"github.com/friendsincode/slotwatch/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.SlotTransition{},
	); err != nil {
		return err
	}

	return applyPostgresStatusCheck(database)
}

// applyPostgresStatusCheck rejects status values outside the four literals.
func applyPostgresStatusCheck(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_constraint WHERE conname = 'slot_transitions_status_check'
  ) THEN
    ALTER TABLE slot_transitions
      ADD CONSTRAINT slot_transitions_status_check
      CHECK (status IN ('예약가능', '예약대기', '시간마감', '정원마감'));
  END IF;
END;
$$;`
	return database.Exec(stmt).Error
}
