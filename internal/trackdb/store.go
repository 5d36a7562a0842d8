// Package trackdb persists estimation runs and their per-cycle estimates
// in SQLite. A run groups the cycles of one tracking session; every cycle
// records the combined estimate, the mode probabilities and the per-model
// likelihoods so runs can be replayed into reports later.
package trackdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle for estimate storage.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the estimate database at path and runs
// all pending migrations.
func Open(path string) (*DB, error) {
	// DSN pragmas apply to every pooled connection, unlike PRAGMA via
	// Exec. WAL keeps readers (report generation) from blocking writes.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open estimate db: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Run is one recorded tracking session.
type Run struct {
	RunID            string
	Scenario         string
	ModelNames       []string
	StartedUnixNanos int64
}

// Estimate is one cycle's worth of estimator output.
type Estimate struct {
	RunID       string
	Cycle       int
	TSUnixNanos int64

	// Combined state (world frame)
	X, Y, VX, VY float64

	// Ground truth and raw measurement when known (simulation runs)
	TruthX, TruthY sql.NullFloat64
	MeasX, MeasY   sql.NullFloat64

	// Mode probabilities and per-model likelihoods, index-aligned with
	// the run's ModelNames
	ModeProbs   []float64
	Likelihoods []float64
}

// CreateRun inserts a new run row and returns it with a fresh run ID.
func (db *DB) CreateRun(scenario string, modelNames []string, startedAt time.Time) (*Run, error) {
	run := &Run{
		RunID:            uuid.NewString(),
		Scenario:         scenario,
		ModelNames:       modelNames,
		StartedUnixNanos: startedAt.UnixNano(),
	}

	names, err := json.Marshal(modelNames)
	if err != nil {
		return nil, fmt.Errorf("marshal model names: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO imm_runs (run_id, scenario, model_names, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Scenario, string(names), run.StartedUnixNanos,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun loads a run by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(
		`SELECT run_id, scenario, model_names, started_unix_nanos FROM imm_runs WHERE run_id = ?`,
		runID,
	)

	var run Run
	var names string
	if err := row.Scan(&run.RunID, &run.Scenario, &names, &run.StartedUnixNanos); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(names), &run.ModelNames); err != nil {
		return nil, fmt.Errorf("unmarshal model names for run %s: %w", runID, err)
	}
	return &run, nil
}

// InsertEstimate records one cycle of estimator output.
func (db *DB) InsertEstimate(est *Estimate) error {
	probs, err := json.Marshal(est.ModeProbs)
	if err != nil {
		return fmt.Errorf("marshal mode probabilities: %w", err)
	}
	likes, err := json.Marshal(est.Likelihoods)
	if err != nil {
		return fmt.Errorf("marshal likelihoods: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO imm_estimates (
			run_id, cycle, ts_unix_nanos,
			x, y, vx, vy,
			truth_x, truth_y, meas_x, meas_y,
			mode_probs, likelihoods
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		est.RunID, est.Cycle, est.TSUnixNanos,
		est.X, est.Y, est.VX, est.VY,
		est.TruthX, est.TruthY, est.MeasX, est.MeasY,
		string(probs), string(likes),
	)
	if err != nil {
		return fmt.Errorf("insert estimate cycle %d: %w", est.Cycle, err)
	}
	return nil
}

// GetEstimates returns a run's estimates ordered by cycle.
func (db *DB) GetEstimates(runID string) ([]*Estimate, error) {
	rows, err := db.Query(`
		SELECT run_id, cycle, ts_unix_nanos,
			x, y, vx, vy,
			truth_x, truth_y, meas_x, meas_y,
			mode_probs, likelihoods
		FROM imm_estimates WHERE run_id = ? ORDER BY cycle`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query estimates for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*Estimate
	for rows.Next() {
		var est Estimate
		var probs, likes string
		if err := rows.Scan(
			&est.RunID, &est.Cycle, &est.TSUnixNanos,
			&est.X, &est.Y, &est.VX, &est.VY,
			&est.TruthX, &est.TruthY, &est.MeasX, &est.MeasY,
			&probs, &likes,
		); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		if err := json.Unmarshal([]byte(probs), &est.ModeProbs); err != nil {
			return nil, fmt.Errorf("unmarshal mode probabilities: %w", err)
		}
		if err := json.Unmarshal([]byte(likes), &est.Likelihoods); err != nil {
			return nil, fmt.Errorf("unmarshal likelihoods: %w", err)
		}
		out = append(out, &est)
	}
	return out, rows.Err()
}

// CountEstimates returns the number of recorded cycles for a run.
func (db *DB) CountEstimates(runID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM imm_estimates WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count estimates for run %s: %w", runID, err)
	}
	return n, nil
}
