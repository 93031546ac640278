package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
)

const (
	migrationBackfillRoomLastUpdated = "2026-10-01_backfill_room_last_updated"
	migrationDropOrphanMembers       = "2026-10-08_drop_orphan_room_members"
)

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
		{name: migrationBackfillRoomLastUpdated, apply: backfillRoomLastUpdated},
		{name: migrationDropOrphanMembers, apply: dropOrphanMembers},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillRoomLastUpdated gives never-edited rooms a last update time equal to their creation time.
func backfillRoomLastUpdated(db *gorm.DB) error {
	return db.Model(&rooms.RoomRecord{}).
		Where("last_updated_ms = 0").
		Update("last_updated_ms", gorm.Expr("created_at_ms")).Error
}

func dropOrphanMembers(db *gorm.DB) error {
	return db.Where("room_id NOT IN (?)", db.Model(&rooms.RoomRecord{}).Select("room_id")).
		Delete(&rooms.MemberRecord{}).Error
}
