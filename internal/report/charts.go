// Package report renders recorded estimation runs into shareable
// artifacts: an HTML dashboard of mode probabilities and speed, and a
// PNG of the truth, measured and estimated trajectories.
package report

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/modetrack/internal/trackdb"
)

// WriteRunReport renders an HTML page for a run: one line chart of mode
// probabilities per model over time and one of estimated vs truth speed.
func WriteRunReport(path string, run *trackdb.Run, estimates []*trackdb.Estimate, dt float64) error {
	if len(estimates) == 0 {
		return fmt.Errorf("report: run %s has no estimates", run.RunID)
	}

	x := make([]string, len(estimates))
	for i, est := range estimates {
		x[i] = fmt.Sprintf("%.1f", float64(est.Cycle)*dt)
	}

	probs := charts.NewLine()
	probs.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Mode probabilities",
			Subtitle: fmt.Sprintf("run=%s scenario=%s", run.RunID, run.Scenario),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "probability", Min: 0, Max: 1}),
	)
	probs.SetXAxis(x)
	for m, name := range run.ModelNames {
		series := make([]opts.LineData, len(estimates))
		for i, est := range estimates {
			var v float64
			if m < len(est.ModeProbs) {
				v = est.ModeProbs[m]
			}
			series[i] = opts.LineData{Value: v}
		}
		probs.AddSeries(name, series)
	}

	speed := charts.NewLine()
	speed.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Estimated speed"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed (m/s)"}),
	)
	est := make([]opts.LineData, len(estimates))
	for i, e := range estimates {
		est[i] = opts.LineData{Value: math.Hypot(e.VX, e.VY)}
	}
	speed.SetXAxis(x).AddSeries("estimate", est)

	page := components.NewPage()
	page.AddCharts(probs, speed)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	return nil
}

// WriteTrajectoryPlot saves a PNG of the run's geometry: the truth path
// and measurements where recorded, and the combined estimate path.
func WriteTrajectoryPlot(path string, estimates []*trackdb.Estimate) error {
	if len(estimates) == 0 {
		return fmt.Errorf("report: no estimates to plot")
	}

	p := plot.New()
	p.Title.Text = "Trajectory"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	estXY := make(plotter.XYs, len(estimates))
	truthXY := make(plotter.XYs, 0, len(estimates))
	measXY := make(plotter.XYs, 0, len(estimates))
	for i, est := range estimates {
		estXY[i] = plotter.XY{X: est.X, Y: est.Y}
		if est.TruthX.Valid && est.TruthY.Valid {
			truthXY = append(truthXY, plotter.XY{X: est.TruthX.Float64, Y: est.TruthY.Float64})
		}
		if est.MeasX.Valid && est.MeasY.Valid {
			measXY = append(measXY, plotter.XY{X: est.MeasX.Float64, Y: est.MeasY.Float64})
		}
	}

	if len(measXY) > 0 {
		scatter, err := plotter.NewScatter(measXY)
		if err != nil {
			return fmt.Errorf("report: measurement scatter: %w", err)
		}
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		scatter.GlyphStyle.Color = color.RGBA{R: 160, G: 160, B: 160, A: 255}
		p.Add(scatter)
		p.Legend.Add("measurements", scatter)
	}

	if len(truthXY) > 0 {
		truth, err := plotter.NewLine(truthXY)
		if err != nil {
			return fmt.Errorf("report: truth line: %w", err)
		}
		truth.Color = color.RGBA{R: 0, G: 128, B: 0, A: 255}
		p.Add(truth)
		p.Legend.Add("truth", truth)
	}

	estLine, err := plotter.NewLine(estXY)
	if err != nil {
		return fmt.Errorf("report: estimate line: %w", err)
	}
	estLine.Color = color.RGBA{R: 200, G: 0, B: 0, A: 255}
	p.Add(estLine)
	p.Legend.Add("estimate", estLine)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}
