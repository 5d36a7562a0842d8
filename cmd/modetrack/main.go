// Command modetrack replays a simulated maneuvering target through the
// IMM estimator, records every cycle to the estimate database, and emits
// an HTML report plus a trajectory plot.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/modetrack/internal/config"
	"github.com/banshee-data/modetrack/internal/report"
	"github.com/banshee-data/modetrack/internal/simulate"
	"github.com/banshee-data/modetrack/internal/tracker"
	"github.com/banshee-data/modetrack/internal/trackdb"
)

var (
	configPath = flag.String("config", "", "Path to tuning config JSON (optional)")
	dbPath     = flag.String("db", "estimates.db", "Path to the estimate database")
	outDir     = flag.String("out", "out", "Directory for report artifacts")
	seed       = flag.Uint64("seed", 0, "Simulation seed (0 uses the configured seed)")
	quiet      = flag.Bool("quiet", false, "Suppress per-leg progress output")
)

func main() {
	flag.Parse()

	var cfg *config.TuningConfig
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	settings := cfg.Settings()
	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}
	if *seed != 0 {
		settings.SimSeed = *seed
	}

	db, err := trackdb.Open(*dbPath)
	if err != nil {
		log.Fatalf("open estimate db: %v", err)
	}
	defer db.Close()

	scenario := simulate.DefaultScenario(settings.DtSeconds, math.Sqrt(settings.MeasurementNoise))
	sess, err := tracker.NewSession(settings, db, scenario.Name)
	if err != nil {
		log.Fatalf("build session: %v", err)
	}

	samples := scenario.Run(settings.SimSeed)
	var sumSq float64
	for _, s := range samples {
		truthX, truthY := s.TruthX, s.TruthY
		err := sess.Process(tracker.Observation{
			TSUnixNanos: int64(s.T * 1e9),
			X:           s.MeasX,
			Y:           s.MeasY,
			TruthX:      &truthX,
			TruthY:      &truthY,
		})
		if err != nil {
			log.Fatalf("cycle %d: %v", s.Step, err)
		}

		x := sess.Estimator().State()
		dx := x.AtVec(0) - s.TruthX
		dy := x.AtVec(1) - s.TruthY
		sumSq += dx*dx + dy*dy

		if !*quiet && (s.Step+1)%50 == 0 {
			mu := sess.Estimator().ModeProbabilities()
			log.Printf("cycle %d: mu=%v speed=%.1fm/s", s.Step+1, formatProbs(mu), sess.Speed())
		}
	}

	rms := math.Sqrt(sumSq / float64(len(samples)))
	log.Printf("run %s: %d cycles, position RMS error %.3fm", sess.Run().RunID, sess.Cycles(), rms)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	estimates, err := db.GetEstimates(sess.Run().RunID)
	if err != nil {
		log.Fatalf("load estimates: %v", err)
	}

	htmlPath := filepath.Join(*outDir, "report.html")
	if err := report.WriteRunReport(htmlPath, sess.Run(), estimates, settings.DtSeconds); err != nil {
		log.Fatalf("write report: %v", err)
	}
	pngPath := filepath.Join(*outDir, "trajectory.png")
	if err := report.WriteTrajectoryPlot(pngPath, estimates); err != nil {
		log.Fatalf("write trajectory plot: %v", err)
	}
	log.Printf("wrote %s and %s", htmlPath, pngPath)
}

func formatProbs(mu []float64) string {
	out := "["
	for i, p := range mu {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%.2f", p)
	}
	return out + "]"
}
