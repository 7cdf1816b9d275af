package movies

import (
	"errors"
	"strings"
	"testing"
)

func TestParseID(t *testing.T) {
	testCases := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "12", want: 12},
		{raw: " 7 ", want: 7},
		{raw: "", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-3", wantErr: true},
		{raw: "1.5", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, testCase := range testCases {
		got, err := ParseID(testCase.raw)
		if testCase.wantErr {
			if !errors.Is(err, ErrInvalidID) {
				t.Fatalf("ParseID(%q): expected invalid id error, got %v", testCase.raw, err)
			}
			continue
		}
		if err != nil || got != testCase.want {
			t.Fatalf("ParseID(%q) = %d, %v; want %d", testCase.raw, got, err, testCase.want)
		}
	}
}

func TestParseReleaseDate(t *testing.T) {
	testCases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "1999-03-31", want: "1999-03-31"},
		{raw: "1999-03-31T23:30:00-02:00", want: "1999-04-01"},
		{raw: "1999-03-31T08:00:00.000Z", want: "1999-03-31"},
		{raw: "31/03/1999", wantErr: true},
		{raw: "   ", wantErr: true},
	}
	for _, testCase := range testCases {
		got, err := ParseReleaseDate(testCase.raw)
		if testCase.wantErr {
			if !errors.Is(err, ErrInvalidReleaseDate) {
				t.Fatalf("ParseReleaseDate(%q): expected invalid date error, got %v", testCase.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseReleaseDate(%q): unexpected error %v", testCase.raw, err)
		}
		if FormatReleaseDate(got) != testCase.want {
			t.Fatalf("ParseReleaseDate(%q) = %s, want %s", testCase.raw, FormatReleaseDate(got), testCase.want)
		}
	}
}

func TestValidateReviewFieldsLimits(t *testing.T) {
	if _, err := validateReviewFields(opCreateReview, strings.Repeat("r", maxNameLength+1), 5, ""); !errors.Is(err, ErrInvalidReviewer) {
		t.Fatalf("expected oversized reviewer to be rejected, got %v", err)
	}
	if _, err := validateReviewFields(opCreateReview, "critic", 5, strings.Repeat("c", maxCommentsLength+1)); !errors.Is(err, ErrInvalidComments) {
		t.Fatalf("expected oversized comments to be rejected, got %v", err)
	}
}
