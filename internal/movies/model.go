package movies

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxNameLength     = 255
	maxCommentsLength = 4000
	minRating         = 0.0
	maxRating         = 10.0
	releaseDateLayout = "2006-01-02"
)

var (
	// ErrInvalidID indicates that an identifier is missing or not a positive integer.
	ErrInvalidID = errors.New("movies: invalid id")
	// ErrInvalidName indicates an empty or oversized movie name.
	ErrInvalidName = errors.New("movies: invalid name")
	// ErrInvalidReleaseDate indicates a release date that is not an ISO-8601 calendar date.
	ErrInvalidReleaseDate = errors.New("movies: invalid release date")
	// ErrInvalidReviewer indicates an empty or oversized reviewer name.
	ErrInvalidReviewer = errors.New("movies: invalid reviewer")
	// ErrInvalidRating indicates a rating outside the 0 to 10 range.
	ErrInvalidRating = errors.New("movies: invalid rating")
	// ErrInvalidComments indicates oversized review comments.
	ErrInvalidComments = errors.New("movies: invalid comments")
)

// Movie is the persisted movie record. AverageRating is owned by the rating
// recompute and is nil while the movie has no reviews.
type Movie struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name          string    `gorm:"column:name;size:255;not null"`
	ReleaseDate   time.Time `gorm:"column:release_date;not null"`
	AverageRating *float64  `gorm:"column:average_rating;type:double precision"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
	Reviews       []Review  `gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Movie) TableName() string {
	return "movies"
}

// Review is a single rating and comment left against one movie.
type Review struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	MovieID   int64     `gorm:"column:movie_id;not null;index:idx_reviews_movie"`
	Reviewer  string    `gorm:"column:reviewer;size:255;not null"`
	Rating    float64   `gorm:"column:rating;type:double precision;not null"`
	Comments  string    `gorm:"column:comments;type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Review) TableName() string {
	return "reviews"
}

// NewID validates a raw identifier.
func NewID(value int64) (int64, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidID, value)
	}
	return value, nil
}

// ParseID validates an identifier supplied as text, e.g. a query parameter.
func ParseID(rawInput string) (int64, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidID)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, rawInput)
	}
	return NewID(value)
}

// ParseReleaseDate accepts YYYY-MM-DD, or an RFC 3339 timestamp which is
// reduced to its UTC calendar date.
func ParseReleaseDate(rawInput string) (time.Time, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidReleaseDate)
	}
	if parsed, err := time.Parse(releaseDateLayout, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidReleaseDate, rawInput)
	}
	year, month, day := parsed.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// FormatReleaseDate renders a stored release date as YYYY-MM-DD.
func FormatReleaseDate(value time.Time) string {
	return value.UTC().Format(releaseDateLayout)
}

func normalizeName(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if utf8.RuneCountInString(trimmed) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxNameLength)
	}
	return trimmed, nil
}

func validateRating(value float64) error {
	if math.IsNaN(value) || value < minRating || value > maxRating {
		return fmt.Errorf("%w: %v outside [%v, %v]", ErrInvalidRating, value, minRating, maxRating)
	}
	return nil
}

func validateComments(value string) error {
	if utf8.RuneCountInString(value) > maxCommentsLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidComments, maxCommentsLength)
	}
	return nil
}

// MovieInput carries client-editable movie fields. The average rating is not
// part of it.
type MovieInput struct {
	Name        string
	ReleaseDate string
}

// ReviewInput carries the fields of a new review.
type ReviewInput struct {
	MovieID  int64
	Reviewer string
	Rating   float64
	Comments string
}

// ReviewUpdate carries the editable fields of an existing review. MovieID is
// optional; when set it must match the stored movie since reviews never move.
type ReviewUpdate struct {
	ID       int64
	MovieID  int64
	Reviewer string
	Rating   float64
	Comments string
}

// ReviewMutation is the outcome of a review write: the review itself, the
// parent movie's refreshed average, and a warning when that refresh failed.
type ReviewMutation struct {
	Review        Review
	AverageRating *float64
	Warning       *ConsistencyWarning
}
