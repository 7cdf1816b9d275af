package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/database"
	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/movies"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInjectedFailure = errors.New("injected store failure")

type testEnvironment struct {
	db         *gorm.DB
	handler    http.Handler
	dispatcher *RealtimeDispatcher
}

type environmentOption func(*Dependencies)

func newTestEnvironment(t *testing.T, options ...environmentOption) testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "server.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})

	dispatcher := NewRealtimeDispatcher()
	serviceConfig := movies.ServiceConfig{
		Database:          db,
		Locks:             movies.NewMovieLocks(),
		OperationTimeout:  5 * time.Second,
		RecomputeAttempts: 2,
		RecomputeBackoff:  time.Millisecond,
		Publisher:         dispatcher,
	}
	movieService, err := movies.NewMovieService(serviceConfig)
	if err != nil {
		t.Fatalf("failed to construct movie service: %v", err)
	}
	reviewService, err := movies.NewReviewService(serviceConfig)
	if err != nil {
		t.Fatalf("failed to construct review service: %v", err)
	}

	deps := Dependencies{
		MovieService:  movieService,
		ReviewService: reviewService,
		Realtime:      dispatcher,
		HealthCheck: func(ctx context.Context) error {
			return database.Ping(ctx, db)
		},
		Logger:            zap.NewNop(),
		HeartbeatInterval: time.Hour,
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testEnvironment{db: db, handler: handler, dispatcher: dispatcher}
}

func (e testEnvironment) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e testEnvironment) mustCreateMovie(t *testing.T, name string) movieResponsePayload {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/movies", `{"name":"`+name+`","releaseDate":"2010-07-16"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create movie: unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var movie movieResponsePayload
	decodeBody(t, recorder, &movie)
	return movie
}

func (e testEnvironment) movieByID(t *testing.T, movieID int64) movieResponsePayload {
	t.Helper()
	recorder := e.do(t, http.MethodGet, "/movies", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list movies: unexpected status %d", recorder.Code)
	}
	var list []movieResponsePayload
	decodeBody(t, recorder, &list)
	for _, movie := range list {
		if movie.ID == movieID {
			return movie
		}
	}
	t.Fatalf("movie %d not listed", movieID)
	return movieResponsePayload{}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func assertErrorResponse(t *testing.T, recorder *httptest.ResponseRecorder, status int, wantError, wantCode string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var payload errorResponse
	decodeBody(t, recorder, &payload)
	if payload.Error != wantError || payload.Code != wantCode {
		t.Fatalf("expected error %s/%s, got %s/%s", wantError, wantCode, payload.Error, payload.Code)
	}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

// failMovieUpdates makes the next n UPDATE statements against movies fail.
func failMovieUpdates(t *testing.T, db *gorm.DB, remaining *atomic.Int32) {
	t.Helper()
	err := db.Callback().Update().Before("gorm:update").Register("test:fail_movie_updates", func(tx *gorm.DB) {
		if tx.Statement.Table != "movies" || remaining.Load() <= 0 {
			return
		}
		remaining.Add(-1)
		_ = tx.AddError(errInjectedFailure)
	})
	if err != nil {
		t.Fatalf("failed to register failure callback: %v", err)
	}
}
