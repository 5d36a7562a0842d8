// Package testutil provides shared test assertion helpers.
package testutil

import (
	"math"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta checks that got is within delta of want.
func AssertInDelta(t *testing.T, got, want, delta float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > delta {
		t.Errorf("got %v, want %v ± %v", got, want, delta)
	}
}

// AssertSumsTo checks that the values sum to want within delta.
func AssertSumsTo(t *testing.T, values []float64, want, delta float64) {
	t.Helper()
	var sum float64
	for _, v := range values {
		sum += v
	}
	if math.Abs(sum-want) > delta {
		t.Errorf("sum(%v) = %v, want %v ± %v", values, sum, want, delta)
	}
}
