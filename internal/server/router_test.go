package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingMovieService) {
		t.Fatalf("expected missing movie service error, got %v", err)
	}
}

func TestRequestIDIsGeneratedOrPropagated(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	env := newTestEnvironment(t, func(deps *Dependencies) {
		deps.Logger = zap.New(core)
	})

	recorder := env.do(t, http.MethodGet, "/movies", "")
	generated := recorder.Header().Get(requestIDHeader)
	parsed, err := uuid.Parse(generated)
	if err != nil {
		t.Fatalf("expected generated uuid request id, got %q", generated)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected uuid v7, got version %d", parsed.Version())
	}

	request := httptest.NewRequest(http.MethodGet, "/movies", http.NoBody)
	request.Header.Set(requestIDHeader, "client-supplied-id")
	recorder = httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Header().Get(requestIDHeader) != "client-supplied-id" {
		t.Fatalf("expected incoming request id to be reused, got %q", recorder.Header().Get(requestIDHeader))
	}

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("expected two request log entries, got %d", len(entries))
	}
	fields := entries[1].ContextMap()
	if fields["request_id"] != "client-supplied-id" || fields["path"] != "/movies" {
		t.Fatalf("unexpected request log fields: %v", fields)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthy status, got %d", recorder.Code)
	}

	failing := newTestEnvironment(t, func(deps *Dependencies) {
		deps.HealthCheck = func(context.Context) error {
			return errInjectedFailure
		}
	})
	recorder = failing.do(t, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected unavailable status, got %d", recorder.Code)
	}
}

func TestStorageFailuresHideDetail(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	env := newTestEnvironment(t, func(deps *Dependencies) {
		deps.Logger = zap.New(core)
	})
	sqlDB, err := env.db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	_ = sqlDB.Close()

	recorder := env.do(t, http.MethodGet, "/movies", "")
	assertErrorResponse(t, recorder, http.StatusInternalServerError, errorStorageFailure, "movies.list_movies.query_failed")
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Fatalf("expected storage failure to be logged")
	}
}
