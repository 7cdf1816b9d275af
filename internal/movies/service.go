package movies

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultOperationTimeout  = 5 * time.Second
	defaultRecomputeAttempts = 3
	defaultRecomputeBackoff  = 50 * time.Millisecond

	columnName        = "name"
	columnReleaseDate = "release_date"
)

const (
	opListMovies  = "movies.list_movies"
	opGetMovie    = "movies.get_movie"
	opCreateMovie = "movies.create_movie"
	opUpdateMovie = "movies.update_movie"
	opDeleteMovie = "movies.delete_movie"
)

var noOpLogger = zap.NewNop()

// RatingPublisher receives every successfully recomputed average.
type RatingPublisher interface {
	PublishRating(movieID int64, averageRating *float64)
}

// ServiceConfig describes the dependencies shared by MovieService and ReviewService.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	// Locks must be shared by both services so movie deletes and review
	// writes serialize on the same movie.
	Locks             *MovieLocks
	OperationTimeout  time.Duration
	RecomputeAttempts int
	RecomputeBackoff  time.Duration
	Publisher         RatingPublisher
}

type store struct {
	db      *gorm.DB
	logger  *zap.Logger
	locks   *MovieLocks
	timeout time.Duration
}

func newStore(cfg ServiceConfig) store {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	locks := cfg.Locks
	if locks == nil {
		locks = NewMovieLocks()
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return store{
		db:      cfg.Database,
		logger:  logger,
		locks:   locks,
		timeout: timeout,
	}
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *store) lockMovie(movieID int64) func() {
	return s.locks.Lock(movieID)
}

func (s *store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("movies service error", attrs...)
}

func (s *store) missingDatabase(operation string) error {
	s.logError(operation, reasonMissingDatabase, errMissingDatabase)
	return newServiceError(ErrStorage, operation, reasonMissingDatabase, errMissingDatabase)
}

// MovieService exposes CRUD over movies. It never writes average ratings.
type MovieService struct {
	store
}

// NewMovieService constructs the movie service.
func NewMovieService(cfg ServiceConfig) (*MovieService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(ErrStorage, "movies.service.new", reasonMissingDatabase, errMissingDatabase)
	}
	return &MovieService{store: newStore(cfg)}, nil
}

// ListMovies returns every movie in id order, without reviews.
func (s *MovieService) ListMovies(ctx context.Context) ([]Movie, error) {
	if s.db == nil {
		return nil, s.missingDatabase(opListMovies)
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	movies := make([]Movie, 0)
	if err := s.db.WithContext(opCtx).Order(orderIDAsc).Find(&movies).Error; err != nil {
		s.logError(opListMovies, reasonQueryFailed, err)
		return nil, storageError(opListMovies, reasonQueryFailed, err)
	}
	return movies, nil
}

// GetMovie returns a single movie.
func (s *MovieService) GetMovie(ctx context.Context, movieID int64) (Movie, error) {
	if s.db == nil {
		return Movie{}, s.missingDatabase(opGetMovie)
	}
	if _, err := NewID(movieID); err != nil {
		return Movie{}, validationError(opGetMovie, "invalid_id", err)
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var movie Movie
	err := s.db.WithContext(opCtx).Where(queryID, movieID).Take(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Movie{}, notFoundError(opGetMovie, err)
	}
	if err != nil {
		s.logError(opGetMovie, reasonQueryFailed, err, zap.Int64("movie_id", movieID))
		return Movie{}, storageError(opGetMovie, reasonQueryFailed, err)
	}
	return movie, nil
}

// CreateMovie inserts a movie with no average rating.
func (s *MovieService) CreateMovie(ctx context.Context, input MovieInput) (Movie, error) {
	if s.db == nil {
		return Movie{}, s.missingDatabase(opCreateMovie)
	}
	name, releaseDate, err := validateMovieInput(opCreateMovie, input)
	if err != nil {
		return Movie{}, err
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	movie := Movie{Name: name, ReleaseDate: releaseDate}
	if err := s.db.WithContext(opCtx).Create(&movie).Error; err != nil {
		s.logError(opCreateMovie, "insert_failed", err)
		return Movie{}, storageError(opCreateMovie, "insert_failed", err)
	}
	return movie, nil
}

// UpdateMovie replaces the name and release date of an existing movie.
func (s *MovieService) UpdateMovie(ctx context.Context, movieID int64, input MovieInput) (Movie, error) {
	if s.db == nil {
		return Movie{}, s.missingDatabase(opUpdateMovie)
	}
	if _, err := NewID(movieID); err != nil {
		return Movie{}, validationError(opUpdateMovie, "invalid_id", err)
	}
	name, releaseDate, err := validateMovieInput(opUpdateMovie, input)
	if err != nil {
		return Movie{}, err
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var updated Movie
	txErr := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		_, found, err := lockMovieRow(tx, movieID)
		if err != nil {
			s.logError(opUpdateMovie, "movie_select_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opUpdateMovie, "movie_select_failed", err)
		}
		if !found {
			return notFoundError(opUpdateMovie, gorm.ErrRecordNotFound)
		}
		if err := tx.Model(&Movie{}).Where(queryID, movieID).Updates(map[string]any{
			columnName:        name,
			columnReleaseDate: releaseDate,
		}).Error; err != nil {
			s.logError(opUpdateMovie, "movie_update_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opUpdateMovie, "movie_update_failed", err)
		}
		if err := tx.Where(queryID, movieID).Take(&updated).Error; err != nil {
			s.logError(opUpdateMovie, "movie_reload_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opUpdateMovie, "movie_reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Movie{}, s.transactionError(opUpdateMovie, txErr, zap.Int64("movie_id", movieID))
	}
	return updated, nil
}

// DeleteMovie removes a movie together with all of its reviews.
func (s *MovieService) DeleteMovie(ctx context.Context, movieID int64) error {
	if s.db == nil {
		return s.missingDatabase(opDeleteMovie)
	}
	if _, err := NewID(movieID); err != nil {
		return validationError(opDeleteMovie, "invalid_id", err)
	}

	unlock := s.lockMovie(movieID)
	defer unlock()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	txErr := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		_, found, err := lockMovieRow(tx, movieID)
		if err != nil {
			s.logError(opDeleteMovie, "movie_select_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opDeleteMovie, "movie_select_failed", err)
		}
		if !found {
			return notFoundError(opDeleteMovie, gorm.ErrRecordNotFound)
		}
		if err := tx.Where(queryMovieID, movieID).Delete(&Review{}).Error; err != nil {
			s.logError(opDeleteMovie, "reviews_delete_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opDeleteMovie, "reviews_delete_failed", err)
		}
		if err := tx.Where(queryID, movieID).Delete(&Movie{}).Error; err != nil {
			s.logError(opDeleteMovie, "movie_delete_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opDeleteMovie, "movie_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return s.transactionError(opDeleteMovie, txErr, zap.Int64("movie_id", movieID))
	}
	return nil
}

func validateMovieInput(operation string, input MovieInput) (string, time.Time, error) {
	name, err := normalizeName(input.Name, ErrInvalidName)
	if err != nil {
		return "", time.Time{}, validationError(operation, "invalid_name", err)
	}
	releaseDate, err := ParseReleaseDate(input.ReleaseDate)
	if err != nil {
		return "", time.Time{}, validationError(operation, "invalid_release_date", err)
	}
	return name, releaseDate, nil
}

// transactionError passes service errors through and maps anything else, such
// as a failed commit, to a storage error.
func (s *store) transactionError(operation string, err error, fields ...zap.Field) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	s.logError(operation, "transaction_failed", err, fields...)
	return storageError(operation, "transaction_failed", err)
}
