package database

import (
	"errors"
	"time"

	"github.com/merigil/mythoria-sub000/internal/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClampNegativeActivationRadius = "2026-09-01_clamp_negative_activation_radius"
	migrationNormalizeTargetDifficulty     = "2026-09-14_normalize_target_difficulty"
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
		{name: migrationClampNegativeActivationRadius, apply: clampNegativeActivationRadius},
		{name: migrationNormalizeTargetDifficulty, apply: normalizeTargetDifficulty},
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

// The repairs below cover rows written before imports validated radii and
// normalized difficulty. Current imports never produce them.

// A negative radius would make a target unreachable.
func clampNegativeActivationRadius(db *gorm.DB) error {
	return db.Model(&ledger.Target{}).
		Where("activation_radius_m < 0").
		Update("activation_radius_m", 0).Error
}

func normalizeTargetDifficulty(db *gorm.DB) error {
	return db.Model(&ledger.Target{}).
		Where("difficulty <> LOWER(TRIM(difficulty))").
		Update("difficulty", gorm.Expr("LOWER(TRIM(difficulty))")).Error
}
