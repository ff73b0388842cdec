// Package trial runs a single external simulation binary and records the
// elapsed time it reports.
package trial

// Mode selects which engine a trial exercises.
type Mode string

const (
	Serial   Mode = "serial"
	Parallel Mode = "parallel"
)

// FailReason classifies why a trial produced no elapsed time.
type FailReason string

const (
	FailNone    FailReason = ""
	FailTimeout FailReason = "timeout"
	FailExit    FailReason = "exit"
	FailParse   FailReason = "parse"
)

// Record is one observation of running a (mode, size, thread-count) cell.
// Records are immutable once created; a correction is a new record, never
// an edit of an old one.
type Record struct {
	Mode        Mode
	ProblemSize uint64
	ThreadCount int
	Elapsed     *float64 // seconds; nil means the trial failed
	Iteration   int

	// FailReason is diagnostic only and is not persisted.
	FailReason FailReason
}

// Succeeded reports whether the trial produced an elapsed time.
func (r Record) Succeeded() bool {
	return r.Elapsed != nil
}

// Seconds returns a pointer to v, for building records in place.
func Seconds(v float64) *float64 {
	return &v
}
