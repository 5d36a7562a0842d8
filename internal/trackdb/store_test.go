package trackdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "estimates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estimates.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an already-migrated database must not fail.
	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestCreateAndGetRun(t *testing.T) {
	db := openTestDB(t)

	started := time.Now()
	models := []string{"cv", "turn-left", "turn-right"}
	run, err := db.CreateRun("figure-eight", models, started)
	require.NoError(t, err)
	require.NotEmpty(t, run.RunID)

	got, err := db.GetRun(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("run round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRun_Missing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRun("no-such-run")
	require.Error(t, err)
}

func TestInsertAndGetEstimates(t *testing.T) {
	db := openTestDB(t)

	run, err := db.CreateRun("sim", []string{"cv", "turn"}, time.Now())
	require.NoError(t, err)

	want := make([]*Estimate, 0, 3)
	for cycle := 0; cycle < 3; cycle++ {
		est := &Estimate{
			RunID:       run.RunID,
			Cycle:       cycle,
			TSUnixNanos: int64(cycle) * 100_000_000,
			X:           float64(cycle),
			Y:           float64(cycle) * 2,
			VX:          1.0,
			VY:          2.0,
			TruthX:      sql.NullFloat64{Float64: float64(cycle), Valid: true},
			TruthY:      sql.NullFloat64{Float64: float64(cycle) * 2, Valid: true},
			MeasX:       sql.NullFloat64{Float64: float64(cycle) + 0.1, Valid: true},
			MeasY:       sql.NullFloat64{Float64: float64(cycle)*2 - 0.1, Valid: true},
			ModeProbs:   []float64{0.7, 0.3},
			Likelihoods: []float64{0.02, 0.01},
		}
		require.NoError(t, db.InsertEstimate(est))
		want = append(want, est)
	}

	got, err := db.GetEstimates(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("estimate round trip mismatch (-want +got):\n%s", diff)
	}

	n, err := db.CountEstimates(run.RunID)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestInsertEstimate_WithoutTruth(t *testing.T) {
	db := openTestDB(t)

	run, err := db.CreateRun("live", []string{"cv", "turn"}, time.Now())
	require.NoError(t, err)

	est := &Estimate{
		RunID:       run.RunID,
		Cycle:       0,
		ModeProbs:   []float64{0.5, 0.5},
		Likelihoods: []float64{0.1, 0.1},
	}
	require.NoError(t, db.InsertEstimate(est))

	got, err := db.GetEstimates(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.False(t, got[0].TruthX.Valid)
	require.False(t, got[0].MeasX.Valid)
}

func TestInsertEstimate_UnknownRunRejected(t *testing.T) {
	db := openTestDB(t)

	est := &Estimate{
		RunID:       "missing",
		ModeProbs:   []float64{1},
		Likelihoods: []float64{1},
	}
	// Foreign keys are on, so an estimate without a run must fail.
	require.Error(t, db.InsertEstimate(est))
}
