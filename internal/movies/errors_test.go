package movies

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestServiceErrorKindsAndCodes(t *testing.T) {
	cause := errors.New("boom")
	testCases := []struct {
		name     string
		err      error
		kind     error
		wantCode string
	}{
		{name: "validation", err: validationError(opCreateMovie, "invalid_name", cause), kind: ErrValidation, wantCode: "movies.create_movie.invalid_name"},
		{name: "not-found", err: notFoundError(opGetMovie, cause), kind: ErrNotFound, wantCode: "movies.get_movie.not_found"},
		{name: "storage", err: storageError(opListMovies, reasonQueryFailed, cause), kind: ErrStorage, wantCode: "movies.list_movies.query_failed"},
		{name: "deadline", err: storageError(opListMovies, reasonQueryFailed, fmt.Errorf("query: %w", context.DeadlineExceeded)), kind: ErrStorage, wantCode: "movies.list_movies.timeout"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if !errors.Is(testCase.err, testCase.kind) {
				t.Fatalf("expected kind %v, got %v", testCase.kind, testCase.err)
			}
			var serviceErr *ServiceError
			if !errors.As(testCase.err, &serviceErr) {
				t.Fatalf("expected service error, got %T", testCase.err)
			}
			if serviceErr.Code() != testCase.wantCode {
				t.Fatalf("expected code %s, got %s", testCase.wantCode, serviceErr.Code())
			}
			if serviceErr.Kind() != testCase.kind {
				t.Fatalf("unexpected kind %v", serviceErr.Kind())
			}
		})
	}
}

func TestServiceErrorKeepsCause(t *testing.T) {
	err := storageError(opDeleteMovie, reasonQueryFailed, errInjectedFailure)
	if !errors.Is(err, errInjectedFailure) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("storage error must not match not found")
	}
}

func TestConsistencyWarningUnwraps(t *testing.T) {
	warning := &ConsistencyWarning{MovieID: 4, Attempts: 3, err: errInjectedFailure}
	if !errors.Is(warning, errInjectedFailure) {
		t.Fatalf("expected warning to wrap its cause")
	}
	if warning.Error() == "" {
		t.Fatalf("expected warning message")
	}
}
