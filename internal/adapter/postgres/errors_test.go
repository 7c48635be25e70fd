package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, domain.ErrConcurrencyConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, domain.ErrConcurrencyConflict},
		{"lock not available", &pq.Error{Code: "55P03"}, domain.ErrConcurrencyConflict},
		{"foreign key violation", &pq.Error{Code: "23503"}, domain.ErrPersistence},
		{"connection lost", errors.New("driver: bad connection"), domain.ErrPersistence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapError("op", tc.err)
			if !errors.Is(err, tc.kind) {
				t.Errorf("mapError = %v, want kind %v", err, tc.kind)
			}
			if !errors.Is(err, tc.err) {
				t.Error("mapped error should unwrap to the driver error")
			}
		})
	}

	if mapError("op", nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("23503 should not be a unique violation")
	}
	if isUniqueViolation(errors.New("UNIQUE constraint failed")) {
		t.Error("non-pq errors should not be a unique violation")
	}
}
