package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/movies"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationReconcileAverageRatings = "2026-10-01_reconcile_average_ratings"

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
		{name: migrationReconcileAverageRatings, apply: reconcileAverageRatings},
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

// reconcileAverageRatings rewrites every stored average from the reviews
// table. Rows without reviews end up NULL rather than 0.
func reconcileAverageRatings(db *gorm.DB) error {
	var movieIDs []int64
	if err := db.Model(&movies.Movie{}).Order("id ASC").Pluck("id", &movieIDs).Error; err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, movieID := range movieIDs {
			if _, err := movies.RecomputeAverage(tx, movieID); err != nil {
				return err
			}
		}
		return nil
	})
}
