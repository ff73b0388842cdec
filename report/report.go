// Package report formats aggregated sweep results into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/weiihann/parasweep/aggregate"
)

var (
	speedupColor = color.New(color.FgGreen, color.Bold)
	gapColor     = color.New(color.FgYellow)
)

// Generate writes a markdown comparison table, one row per problem size
// ascending. Sizes missing a serial baseline or any parallel data render
// "-" in the affected columns; an absent speedup is a gap, not an error.
func Generate(w io.Writer, res aggregate.Result) error {
	sizes := res.Sizes()
	if len(sizes) == 0 {
		return fmt.Errorf("no aggregated data to report")
	}

	fmt.Fprintln(w, "## Sweep Results")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d problem sizes, %d aggregated cells, %d speedup entries\n",
		len(sizes), len(res.Cells), len(res.Speedups))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Size | Serial Mean | Best Parallel | Threads | Speedup |")
	fmt.Fprintln(w, "|------|-------------|---------------|---------|---------|")

	for _, size := range sizes {
		serialCol, parCol, thrCol, spCol := "-", "-", "-", gapColor.Sprint("-")

		if c, ok := res.SerialCell(size); ok {
			serialCol = formatSeconds(c.Mean)
		}

		if mean, threads, ok := res.BestParallel(size); ok {
			parCol = formatSeconds(mean)
			thrCol = fmt.Sprintf("%d", threads)
		}

		if sp, ok := res.Speedups[size]; ok {
			spCol = speedupColor.Sprintf("%.2fx", sp.Ratio)
		}

		fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
			humanize.Comma(int64(size)), serialCol, parCol, thrCol, spCol)
	}

	return nil
}

// Entry is the visualizer-facing row for one problem size.
type Entry struct {
	ProblemSize      uint64   `json:"problem_size"`
	SerialMean       *float64 `json:"serial_mean_seconds,omitempty"`
	BestParallelMean *float64 `json:"best_parallel_mean_seconds,omitempty"`
	BestThreads      int      `json:"best_threads,omitempty"`
	Speedup          *float64 `json:"speedup,omitempty"`
}

// Entries flattens the result into rows sorted by problem size.
func Entries(res aggregate.Result) []Entry {
	sizes := res.Sizes()
	entries := make([]Entry, 0, len(sizes))

	for _, size := range sizes {
		e := Entry{ProblemSize: size}

		if c, ok := res.SerialCell(size); ok {
			mean := c.Mean
			e.SerialMean = &mean
		}

		if mean, threads, ok := res.BestParallel(size); ok {
			e.BestParallelMean = &mean
			e.BestThreads = threads
		}

		if sp, ok := res.Speedups[size]; ok {
			ratio := sp.Ratio
			e.Speedup = &ratio
		}

		entries = append(entries, e)
	}

	return entries
}

// GenerateJSON writes the entries as indented JSON to w.
func GenerateJSON(w io.Writer, res aggregate.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(Entries(res))
}

func formatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.1fms", s*1000)
	}

	return fmt.Sprintf("%.3fs", s)
}
