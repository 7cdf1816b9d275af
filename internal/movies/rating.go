package movies

import (
	"database/sql"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnAverageRating = "average_rating"
	queryID             = "id = ?"
	queryMovieID        = "movie_id = ?"
	orderIDAsc          = "id ASC"
	selectRatingSummary = "COUNT(*) AS review_count, AVG(rating) AS average"
)

type ratingSummary struct {
	ReviewCount int64    `gorm:"column:review_count"`
	Average     *float64 `gorm:"column:average"`
}

// RecomputeAverage aggregates the current reviews of a movie and writes the
// mean into movies.average_rating, or NULL when the movie has no reviews.
// It is a pure function of the stored rows and safe to repeat.
func RecomputeAverage(tx *gorm.DB, movieID int64) (*float64, error) {
	var summary ratingSummary
	if err := tx.Model(&Review{}).
		Select(selectRatingSummary).
		Where(queryMovieID, movieID).
		Scan(&summary).Error; err != nil {
		return nil, err
	}

	var average *float64
	if summary.ReviewCount > 0 && summary.Average != nil {
		value := *summary.Average
		average = &value
	}

	stored := sql.NullFloat64{}
	if average != nil {
		stored = sql.NullFloat64{Float64: *average, Valid: true}
	}
	if err := tx.Model(&Movie{}).
		Where(queryID, movieID).
		Update(columnAverageRating, stored).Error; err != nil {
		return nil, err
	}
	return average, nil
}

// recomputeInSavepoint runs the recompute inside a nested transaction so a
// failure rolls back only the recompute and leaves the primary write intact.
func recomputeInSavepoint(tx *gorm.DB, movieID int64) (*float64, error) {
	var average *float64
	err := tx.Transaction(func(savepoint *gorm.DB) error {
		value, err := RecomputeAverage(savepoint, movieID)
		if err != nil {
			return err
		}
		average = value
		return nil
	})
	return average, err
}

// lockMovieRow reports whether the movie exists, taking a row lock where the
// engine supports one.
func lockMovieRow(tx *gorm.DB, movieID int64) (Movie, bool, error) {
	var movie Movie
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryID, movieID).
		Take(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Movie{}, false, nil
	}
	if err != nil {
		return Movie{}, false, err
	}
	return movie, true, nil
}
