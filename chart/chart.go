// Package chart renders aggregated sweep results as PNG figures: mean
// time versus problem size on a log-log scale, and speedup of the best
// parallel configuration versus problem size.
package chart

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/weiihann/parasweep/aggregate"
)

var (
	serialColor   = color.RGBA{R: 0, G: 114, B: 178, A: 255}
	parallelColor = color.RGBA{R: 213, G: 94, B: 0, A: 255}
	speedupLine   = color.RGBA{R: 100, G: 200, B: 100, A: 255}
)

// TimeVsSize writes a log-log chart of serial and best-parallel mean
// times per problem size. Sizes without data for a series are left out
// of that series rather than zero-filled; log axes reject zeros anyway.
func TimeVsSize(res aggregate.Result, path string) error {
	var serialPts, parPts plotter.XYs

	for _, size := range res.Sizes() {
		if c, ok := res.SerialCell(size); ok && c.Mean > 0 {
			serialPts = append(serialPts, plotter.XY{X: float64(size), Y: c.Mean})
		}

		if mean, _, ok := res.BestParallel(size); ok && mean > 0 {
			parPts = append(parPts, plotter.XY{X: float64(size), Y: mean})
		}
	}

	if len(serialPts) == 0 && len(parPts) == 0 {
		return fmt.Errorf("no data points to plot")
	}

	p := plot.New()
	p.Title.Text = "Time vs Problem Size"
	p.X.Label.Text = "Problem size (elements)"
	p.Y.Label.Text = "Time (s)"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{}
	p.Y.Tick.Marker = plot.LogTicks{}

	if len(serialPts) > 0 {
		line, err := plotter.NewLine(serialPts)
		if err != nil {
			return fmt.Errorf("serial line: %w", err)
		}

		line.Color = serialColor
		line.Width = vg.Points(2)

		p.Add(line)
		p.Legend.Add("serial", line)
	}

	if len(parPts) > 0 {
		line, err := plotter.NewLine(parPts)
		if err != nil {
			return fmt.Errorf("parallel line: %w", err)
		}

		line.Color = parallelColor
		line.Width = vg.Points(2)

		p.Add(line)
		p.Legend.Add("best parallel", line)
	}

	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	return nil
}

// SpeedupVsSize writes a chart of the serial/best-parallel speedup ratio
// per problem size. Sizes without a speedup entry are omitted.
func SpeedupVsSize(res aggregate.Result, path string) error {
	var pts plotter.XYs

	for _, size := range res.Sizes() {
		if sp, ok := res.Speedups[size]; ok {
			pts = append(pts, plotter.XY{X: float64(size), Y: sp.Ratio})
		}
	}

	if len(pts) == 0 {
		return fmt.Errorf("no speedup entries to plot")
	}

	p := plot.New()
	p.Title.Text = "Speedup vs Problem Size"
	p.X.Label.Text = "Problem size (elements)"
	p.Y.Label.Text = "Speedup (serial / best parallel)"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("speedup line: %w", err)
	}

	line.Color = speedupLine
	line.Width = vg.Points(2)
	points.Color = speedupLine

	p.Add(line, points)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	return nil
}

// Render writes both figures into outDir. The speedup figure is skipped
// when no speedup entry exists; missing data is a gap, not a failure.
func Render(res aggregate.Result, outDir string) error {
	if err := TimeVsSize(res, filepath.Join(outDir, "time_vs_size.png")); err != nil {
		return err
	}

	if len(res.Speedups) == 0 {
		return nil
	}

	return SpeedupVsSize(res, filepath.Join(outDir, "speedup_vs_size.png"))
}
