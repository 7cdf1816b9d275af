package movies

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errInjectedFailure = errors.New("injected store failure")

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "movies.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Movie{}, &Review{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type testServices struct {
	db        *gorm.DB
	movies    *MovieService
	reviews   *ReviewService
	publisher *recordingPublisher
}

func newTestServices(t *testing.T, db *gorm.DB) testServices {
	t.Helper()
	publisher := &recordingPublisher{}
	cfg := ServiceConfig{
		Database:          db,
		Locks:             NewMovieLocks(),
		OperationTimeout:  5 * time.Second,
		RecomputeAttempts: 2,
		RecomputeBackoff:  time.Millisecond,
		Publisher:         publisher,
	}
	movieService, err := NewMovieService(cfg)
	if err != nil {
		t.Fatalf("failed to construct movie service: %v", err)
	}
	reviewService, err := NewReviewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct review service: %v", err)
	}
	return testServices{db: db, movies: movieService, reviews: reviewService, publisher: publisher}
}

func mustCreateMovie(t *testing.T, service *MovieService, name string) Movie {
	t.Helper()
	movie, err := service.CreateMovie(context.Background(), MovieInput{Name: name, ReleaseDate: "2020-01-01"})
	if err != nil {
		t.Fatalf("create movie %q: %v", name, err)
	}
	return movie
}

func mustCreateReview(t *testing.T, service *ReviewService, movieID int64, rating float64) ReviewMutation {
	t.Helper()
	mutation, err := service.CreateReview(context.Background(), ReviewInput{
		MovieID:  movieID,
		Reviewer: "critic",
		Rating:   rating,
		Comments: "noted",
	})
	if err != nil {
		t.Fatalf("create review for movie %d: %v", movieID, err)
	}
	return mutation
}

func storedAverage(t *testing.T, db *gorm.DB, movieID int64) *float64 {
	t.Helper()
	var movie Movie
	if err := db.Where("id = ?", movieID).Take(&movie).Error; err != nil {
		t.Fatalf("reload movie %d: %v", movieID, err)
	}
	return movie.AverageRating
}

func assertStoredAverage(t *testing.T, db *gorm.DB, movieID int64, want *float64) {
	t.Helper()
	assertAverage(t, storedAverage(t, db, movieID), want)
}

func assertAverage(t *testing.T, got, want *float64) {
	t.Helper()
	switch {
	case want == nil && got == nil:
		return
	case want == nil:
		t.Fatalf("expected null average rating, got %v", *got)
	case got == nil:
		t.Fatalf("expected average rating %v, got null", *want)
	case math.Abs(*got-*want) > 1e-9:
		t.Fatalf("expected average rating %v, got %v", *want, *got)
	}
}

func ratingPointer(value float64) *float64 {
	return &value
}

// failMovieUpdates makes the next n UPDATE statements against movies fail.
func failMovieUpdates(t *testing.T, db *gorm.DB, remaining *atomic.Int32) {
	t.Helper()
	err := db.Callback().Update().Before("gorm:update").Register("test:fail_movie_updates", func(tx *gorm.DB) {
		if tx.Statement.Table != "movies" {
			return
		}
		if remaining.Load() <= 0 {
			return
		}
		remaining.Add(-1)
		_ = tx.AddError(errInjectedFailure)
	})
	if err != nil {
		t.Fatalf("failed to register failure callback: %v", err)
	}
}

type publishedRating struct {
	movieID int64
	average *float64
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedRating
}

func (p *recordingPublisher) PublishRating(movieID int64, averageRating *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedRating{movieID: movieID, average: averageRating})
}

func (p *recordingPublisher) snapshot() []publishedRating {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedRating(nil), p.events...)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
