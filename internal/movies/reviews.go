package movies

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListReviews     = "movies.list_reviews"
	opCreateReview    = "movies.create_review"
	opUpdateReview    = "movies.update_review"
	opDeleteReview    = "movies.delete_review"
	opRecomputeRating = "movies.recompute_rating"

	columnReviewer = "reviewer"
	columnRating   = "rating"
	columnComments = "comments"
)

// ReviewService exposes CRUD over reviews and keeps each parent movie's
// average rating equal to the mean of its reviews.
type ReviewService struct {
	store
	attempts   int
	backoff    time.Duration
	publisher  RatingPublisher
	reconciler *RatingReconciler
}

// NewReviewService constructs the review service together with its rating reconciler.
func NewReviewService(cfg ServiceConfig) (*ReviewService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(ErrStorage, "movies.service.new", reasonMissingDatabase, errMissingDatabase)
	}
	attempts := cfg.RecomputeAttempts
	if attempts <= 0 {
		attempts = defaultRecomputeAttempts
	}
	retryBackoff := cfg.RecomputeBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRecomputeBackoff
	}
	service := &ReviewService{
		store:     newStore(cfg),
		attempts:  attempts,
		backoff:   retryBackoff,
		publisher: cfg.Publisher,
	}
	service.reconciler = NewRatingReconciler(RatingReconcilerConfig{
		Recompute:      service.Recompute,
		Logger:         service.logger,
		InitialBackoff: retryBackoff,
	})
	return service, nil
}

// RunReconciler processes movies whose average went stale until ctx is done.
func (s *ReviewService) RunReconciler(ctx context.Context) {
	if s.reconciler == nil {
		return
	}
	s.reconciler.Run(ctx)
}

// ListReviews returns the reviews of one movie in id order.
func (s *ReviewService) ListReviews(ctx context.Context, movieID int64) ([]Review, error) {
	if s.db == nil {
		return nil, s.missingDatabase(opListReviews)
	}
	if _, err := NewID(movieID); err != nil {
		return nil, validationError(opListReviews, "invalid_movie_id", err)
	}
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	reviews := make([]Review, 0)
	if err := s.db.WithContext(opCtx).
		Where(queryMovieID, movieID).
		Order(orderIDAsc).
		Find(&reviews).Error; err != nil {
		s.logError(opListReviews, reasonQueryFailed, err, zap.Int64("movie_id", movieID))
		return nil, storageError(opListReviews, reasonQueryFailed, err)
	}
	return reviews, nil
}

// CreateReview inserts a review and refreshes the movie's average in the same
// transaction. A review for a missing movie is rejected without writing.
func (s *ReviewService) CreateReview(ctx context.Context, input ReviewInput) (ReviewMutation, error) {
	if s.db == nil {
		return ReviewMutation{}, s.missingDatabase(opCreateReview)
	}
	if _, err := NewID(input.MovieID); err != nil {
		return ReviewMutation{}, validationError(opCreateReview, "invalid_movie_id", err)
	}
	reviewer, err := validateReviewFields(opCreateReview, input.Reviewer, input.Rating, input.Comments)
	if err != nil {
		return ReviewMutation{}, err
	}

	unlock := s.lockMovie(input.MovieID)
	defer unlock()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	review := Review{
		MovieID:  input.MovieID,
		Reviewer: reviewer,
		Rating:   input.Rating,
		Comments: input.Comments,
	}
	var average *float64
	var recomputeErr error
	txErr := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		_, found, err := lockMovieRow(tx, input.MovieID)
		if err != nil {
			s.logError(opCreateReview, "movie_select_failed", err, zap.Int64("movie_id", input.MovieID))
			return storageError(opCreateReview, "movie_select_failed", err)
		}
		if !found {
			return notFoundError(opCreateReview, gorm.ErrRecordNotFound)
		}
		if err := tx.Create(&review).Error; err != nil {
			s.logError(opCreateReview, "review_insert_failed", err, zap.Int64("movie_id", input.MovieID))
			return storageError(opCreateReview, "review_insert_failed", err)
		}
		average, recomputeErr = recomputeInSavepoint(tx, input.MovieID)
		return nil
	})
	if txErr != nil {
		return ReviewMutation{}, s.transactionError(opCreateReview, txErr, zap.Int64("movie_id", input.MovieID))
	}

	return s.completeMutation(ctx, opCreateReview, review, average, recomputeErr), nil
}

// UpdateReview replaces the reviewer, rating and comments of a review and
// refreshes its movie's average. Reviews cannot move between movies.
func (s *ReviewService) UpdateReview(ctx context.Context, input ReviewUpdate) (ReviewMutation, error) {
	if s.db == nil {
		return ReviewMutation{}, s.missingDatabase(opUpdateReview)
	}
	if _, err := NewID(input.ID); err != nil {
		return ReviewMutation{}, validationError(opUpdateReview, "invalid_id", err)
	}
	reviewer, err := validateReviewFields(opUpdateReview, input.Reviewer, input.Rating, input.Comments)
	if err != nil {
		return ReviewMutation{}, err
	}

	existing, err := s.findReview(ctx, opUpdateReview, input.ID)
	if err != nil {
		return ReviewMutation{}, err
	}
	if input.MovieID != 0 && input.MovieID != existing.MovieID {
		return ReviewMutation{}, validationError(opUpdateReview, "movie_id_immutable", ErrInvalidID)
	}
	movieID := existing.MovieID

	unlock := s.lockMovie(movieID)
	defer unlock()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var updated Review
	var average *float64
	var recomputeErr error
	txErr := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if _, _, err := lockMovieRow(tx, movieID); err != nil {
			s.logError(opUpdateReview, "movie_select_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opUpdateReview, "movie_select_failed", err)
		}
		result := tx.Model(&Review{}).
			Where(queryID, input.ID).
			Updates(map[string]any{
				columnReviewer: reviewer,
				columnRating:   input.Rating,
				columnComments: input.Comments,
			})
		if result.Error != nil {
			s.logError(opUpdateReview, "review_update_failed", result.Error, zap.Int64("review_id", input.ID))
			return storageError(opUpdateReview, "review_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFoundError(opUpdateReview, gorm.ErrRecordNotFound)
		}
		if err := tx.Where(queryID, input.ID).Take(&updated).Error; err != nil {
			s.logError(opUpdateReview, "review_reload_failed", err, zap.Int64("review_id", input.ID))
			return storageError(opUpdateReview, "review_reload_failed", err)
		}
		average, recomputeErr = recomputeInSavepoint(tx, movieID)
		return nil
	})
	if txErr != nil {
		return ReviewMutation{}, s.transactionError(opUpdateReview, txErr, zap.Int64("review_id", input.ID))
	}

	return s.completeMutation(ctx, opUpdateReview, updated, average, recomputeErr), nil
}

// DeleteReview removes a review and refreshes its movie's average against
// the remaining reviews.
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID int64) (ReviewMutation, error) {
	if s.db == nil {
		return ReviewMutation{}, s.missingDatabase(opDeleteReview)
	}
	if _, err := NewID(reviewID); err != nil {
		return ReviewMutation{}, validationError(opDeleteReview, "invalid_id", err)
	}

	existing, err := s.findReview(ctx, opDeleteReview, reviewID)
	if err != nil {
		return ReviewMutation{}, err
	}
	movieID := existing.MovieID

	unlock := s.lockMovie(movieID)
	defer unlock()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var average *float64
	var recomputeErr error
	txErr := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if _, _, err := lockMovieRow(tx, movieID); err != nil {
			s.logError(opDeleteReview, "movie_select_failed", err, zap.Int64("movie_id", movieID))
			return storageError(opDeleteReview, "movie_select_failed", err)
		}
		result := tx.Where(queryID, reviewID).Delete(&Review{})
		if result.Error != nil {
			s.logError(opDeleteReview, "review_delete_failed", result.Error, zap.Int64("review_id", reviewID))
			return storageError(opDeleteReview, "review_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFoundError(opDeleteReview, gorm.ErrRecordNotFound)
		}
		average, recomputeErr = recomputeInSavepoint(tx, movieID)
		return nil
	})
	if txErr != nil {
		return ReviewMutation{}, s.transactionError(opDeleteReview, txErr, zap.Int64("review_id", reviewID))
	}

	return s.completeMutation(ctx, opDeleteReview, existing, average, recomputeErr), nil
}

// Recompute refreshes a movie's average from its current reviews. It is
// idempotent; the reconciler calls it for movies left stale by a failed refresh.
func (s *ReviewService) Recompute(ctx context.Context, movieID int64) (*float64, error) {
	if s.db == nil {
		return nil, s.missingDatabase(opRecomputeRating)
	}
	if _, err := NewID(movieID); err != nil {
		return nil, validationError(opRecomputeRating, "invalid_movie_id", err)
	}

	unlock := s.lockMovie(movieID)
	defer unlock()

	average, err := s.recomputeLocked(ctx, movieID)
	if err != nil {
		return nil, err
	}
	s.publish(movieID, average)
	return average, nil
}

// recomputeLocked expects the caller to hold the movie's lock.
func (s *ReviewService) recomputeLocked(ctx context.Context, movieID int64) (*float64, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var average *float64
	txErr := s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		_, found, err := lockMovieRow(tx, movieID)
		if err != nil {
			return storageError(opRecomputeRating, "movie_select_failed", err)
		}
		if !found {
			return notFoundError(opRecomputeRating, gorm.ErrRecordNotFound)
		}
		value, err := RecomputeAverage(tx, movieID)
		if err != nil {
			return storageError(opRecomputeRating, "recompute_failed", err)
		}
		average = value
		return nil
	})
	if txErr != nil {
		return nil, s.transactionError(opRecomputeRating, txErr, zap.Int64("movie_id", movieID))
	}
	return average, nil
}

// completeMutation runs after the review write committed. When the in-transaction
// recompute failed it retries with backoff under the still-held movie lock,
// and hands the movie to the reconciler if every attempt fails.
func (s *ReviewService) completeMutation(ctx context.Context, operation string, review Review, average *float64, recomputeErr error) ReviewMutation {
	movieID := review.MovieID
	if recomputeErr == nil {
		s.publish(movieID, average)
		return ReviewMutation{Review: review, AverageRating: average}
	}

	attempts := 0
	lastErr := recomputeErr
	var value *float64
	operationFn := func() error {
		attempts++
		// The first attempt already ran inside the write transaction.
		if attempts == 1 {
			return permanentOnNotFound(recomputeErr)
		}
		average, err := s.recomputeLocked(ctx, movieID)
		if err != nil {
			lastErr = err
			return permanentOnNotFound(err)
		}
		value = average
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.loggerOrDefault().Warn("average rating recompute failed after review write",
			zap.String("operation", operation),
			zap.Int64("movie_id", movieID),
			zap.Int64("review_id", review.ID),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}
	policy := newRetryPolicy(ctx, s.backoff, 0, s.attempts)
	if err := backoff.RetryNotify(operationFn, policy, notify); err == nil {
		s.publish(movieID, value)
		return ReviewMutation{Review: review, AverageRating: value}
	}

	warning := &ConsistencyWarning{MovieID: movieID, Attempts: attempts, err: lastErr}
	s.logError(operation, "average_rating_stale", warning,
		zap.Int64("movie_id", movieID),
		zap.Int64("review_id", review.ID))
	if s.reconciler != nil {
		s.reconciler.Enqueue(movieID)
	}
	return ReviewMutation{Review: review, Warning: warning}
}

func (s *ReviewService) findReview(ctx context.Context, operation string, reviewID int64) (Review, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var review Review
	err := s.db.WithContext(opCtx).Where(queryID, reviewID).Take(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Review{}, notFoundError(operation, err)
	}
	if err != nil {
		s.logError(operation, "review_select_failed", err, zap.Int64("review_id", reviewID))
		return Review{}, storageError(operation, "review_select_failed", err)
	}
	return review, nil
}

func (s *ReviewService) publish(movieID int64, average *float64) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishRating(movieID, average)
}

func validateReviewFields(operation, rawReviewer string, rating float64, comments string) (string, error) {
	reviewer, err := normalizeName(rawReviewer, ErrInvalidReviewer)
	if err != nil {
		return "", validationError(operation, "invalid_reviewer", err)
	}
	if err := validateRating(rating); err != nil {
		return "", validationError(operation, "invalid_rating", err)
	}
	if err := validateComments(comments); err != nil {
		return "", validationError(operation, "invalid_comments", err)
	}
	return reviewer, nil
}
