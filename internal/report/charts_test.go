package report

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/modetrack/internal/trackdb"
)

func sampleRun() (*trackdb.Run, []*trackdb.Estimate) {
	run := &trackdb.Run{
		RunID:      "test-run",
		Scenario:   "unit",
		ModelNames: []string{"cv", "turn-left"},
	}
	estimates := make([]*trackdb.Estimate, 0, 20)
	for i := 0; i < 20; i++ {
		estimates = append(estimates, &trackdb.Estimate{
			RunID:       run.RunID,
			Cycle:       i,
			X:           float64(i),
			Y:           float64(i) * 0.5,
			VX:          10,
			VY:          5,
			TruthX:      sql.NullFloat64{Float64: float64(i), Valid: true},
			TruthY:      sql.NullFloat64{Float64: float64(i) * 0.5, Valid: true},
			MeasX:       sql.NullFloat64{Float64: float64(i) + 0.2, Valid: true},
			MeasY:       sql.NullFloat64{Float64: float64(i)*0.5 - 0.2, Valid: true},
			ModeProbs:   []float64{0.8, 0.2},
			Likelihoods: []float64{0.05, 0.01},
		})
	}
	return run, estimates
}

func TestWriteRunReport(t *testing.T) {
	run, estimates := sampleRun()
	path := filepath.Join(t.TempDir(), "report.html")

	if err := WriteRunReport(path, run, estimates, 0.1); err != nil {
		t.Fatalf("WriteRunReport: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	html := string(data)
	for _, want := range []string{"Mode probabilities", "Estimated speed", "turn-left"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestWriteRunReport_EmptyRun(t *testing.T) {
	run, _ := sampleRun()
	err := WriteRunReport(filepath.Join(t.TempDir(), "report.html"), run, nil, 0.1)
	if err == nil {
		t.Error("expected error for run without estimates")
	}
}

func TestWriteTrajectoryPlot(t *testing.T) {
	_, estimates := sampleRun()
	path := filepath.Join(t.TempDir(), "trajectory.png")

	if err := WriteTrajectoryPlot(path, estimates); err != nil {
		t.Fatalf("WriteTrajectoryPlot: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat plot: %v", err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}
}

func TestWriteTrajectoryPlot_NoEstimates(t *testing.T) {
	if err := WriteTrajectoryPlot(filepath.Join(t.TempDir(), "t.png"), nil); err == nil {
		t.Error("expected error for empty estimate list")
	}
}
