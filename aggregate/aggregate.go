// Package aggregate reduces raw trial records to per-cell mean times and
// per-size speedup ratios. Aggregation is a pure function of the record
// set; the raw records stay authoritative and nothing here is persisted.
package aggregate

import (
	"sort"

	"github.com/weiihann/parasweep/trial"
)

// Key identifies one aggregation group.
type Key struct {
	Mode        trial.Mode
	ThreadCount int
	ProblemSize uint64
}

// Cell is the arithmetic mean of present elapsed times for one Key.
// Failed records contribute to neither the mean nor the count.
type Cell struct {
	Mean  float64
	Count int
}

// Speedup compares the serial baseline against the best-performing
// parallel configuration for one problem size. The best configuration is
// chosen per size rather than at a fixed thread count: the point of the
// sweep is the attainable speedup, not one particular setup.
type Speedup struct {
	SerialMean       float64
	BestParallelMean float64
	BestThreads      int
	Ratio            float64 // SerialMean / BestParallelMean
}

// Result holds the derived views over one record set.
type Result struct {
	Cells    map[Key]Cell
	Speedups map[uint64]Speedup
}

// Aggregate groups records by (mode, threadCount, problemSize), averages
// the present elapsed times per group, and derives a speedup entry for
// every size that has both a serial cell and at least one parallel cell
// with a positive mean. Groups with no successful record yield no cell;
// sizes missing either operand yield no speedup entry.
func Aggregate(records []trial.Record) Result {
	type acc struct {
		sum float64
		n   int
	}

	accs := make(map[Key]*acc)

	for _, r := range records {
		if r.Elapsed == nil {
			continue
		}

		k := Key{Mode: r.Mode, ThreadCount: r.ThreadCount, ProblemSize: r.ProblemSize}

		a := accs[k]
		if a == nil {
			a = &acc{}
			accs[k] = a
		}

		a.sum += *r.Elapsed
		a.n++
	}

	cells := make(map[Key]Cell, len(accs))
	for k, a := range accs {
		cells[k] = Cell{Mean: a.sum / float64(a.n), Count: a.n}
	}

	res := Result{Cells: cells, Speedups: make(map[uint64]Speedup)}

	for _, size := range res.Sizes() {
		serial, ok := cells[Key{Mode: trial.Serial, ThreadCount: 1, ProblemSize: size}]
		if !ok {
			continue
		}

		best, threads, ok := res.BestParallel(size)
		if !ok || best <= 0 {
			continue
		}

		res.Speedups[size] = Speedup{
			SerialMean:       serial.Mean,
			BestParallelMean: best,
			BestThreads:      threads,
			Ratio:            serial.Mean / best,
		}
	}

	return res
}

// Sizes returns every problem size present in Cells, ascending.
func (r Result) Sizes() []uint64 {
	seen := make(map[uint64]struct{})
	for k := range r.Cells {
		seen[k.ProblemSize] = struct{}{}
	}

	sizes := make([]uint64, 0, len(seen))
	for size := range seen {
		sizes = append(sizes, size)
	}

	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	return sizes
}

// SerialCell returns the serial baseline cell for size, if present.
func (r Result) SerialCell(size uint64) (Cell, bool) {
	c, ok := r.Cells[Key{Mode: trial.Serial, ThreadCount: 1, ProblemSize: size}]

	return c, ok
}

// BestParallel returns the minimum parallel mean across thread counts for
// size. Ties resolve to the lower thread count so repeated aggregation of
// the same records is deterministic.
func (r Result) BestParallel(size uint64) (mean float64, threads int, ok bool) {
	for k, c := range r.Cells {
		if k.Mode != trial.Parallel || k.ProblemSize != size {
			continue
		}

		if !ok || c.Mean < mean || (c.Mean == mean && k.ThreadCount < threads) {
			mean, threads, ok = c.Mean, k.ThreadCount, true
		}
	}

	return mean, threads, ok
}
