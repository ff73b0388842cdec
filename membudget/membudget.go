// Package membudget decides whether a problem size's estimated allocation
// fits within a safety fraction of currently available memory. Exhausting
// system memory mid-sweep is an uncontrolled failure mode; sizes that do
// not fit are skipped before any subprocess is launched.
package membudget

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"
)

// Probe reports currently available memory in bytes.
type Probe interface {
	Available() (uint64, error)
}

// SystemProbe reads available memory from the operating system.
type SystemProbe struct{}

// Available implements Probe via gopsutil.
func (SystemProbe) Available() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}

	return vm.Available, nil
}

// Config bounds how much memory a single trial may claim.
type Config struct {
	// SafetyFraction is the portion of available memory one trial's
	// estimated allocation may occupy. Equality counts as fitting.
	SafetyFraction float64

	// BytesPerElement is the width of one element of the primary array.
	BytesPerElement uint64

	// Multiplier adds headroom for secondary allocations (auxiliary
	// buffers, per-thread working sets) beyond the primary array. The
	// estimate is an approximation, not a guaranteed bound.
	Multiplier float64
}

// DefaultConfig allows 40% of available memory for an 8-byte-per-element
// array with no extra headroom.
func DefaultConfig() Config {
	return Config{
		SafetyFraction:  0.4,
		BytesPerElement: 8,
		Multiplier:      1.0,
	}
}

// Verdict is the feasibility decision for one problem size.
type Verdict struct {
	Fits     bool
	Required uint64 // estimated allocation in bytes
	Budget   uint64 // bytes one trial may claim; zero when unknown
	Known    bool   // false when available memory could not be probed
}

// Estimator answers feasibility questions for candidate problem sizes.
type Estimator struct {
	cfg    Config
	probe  Probe
	logger *slog.Logger
}

// NewEstimator creates an Estimator. A nil probe defaults to SystemProbe.
func NewEstimator(cfg Config, probe Probe, logger *slog.Logger) *Estimator {
	if probe == nil {
		probe = SystemProbe{}
	}

	return &Estimator{
		cfg:    cfg,
		probe:  probe,
		logger: logger.With(slog.String("component", "membudget")),
	}
}

// Required returns the estimated allocation for problemSize in bytes.
func (e *Estimator) Required(problemSize uint64) uint64 {
	return uint64(float64(problemSize*e.cfg.BytesPerElement) * e.cfg.Multiplier)
}

// Check decides whether problemSize fits in the memory budget. When the
// probe fails, the verdict is not an abort: Known is false and Fits is
// true, so the caller proceeds and lets the trial itself fail or time out.
// A zero problem size always fits.
func (e *Estimator) Check(problemSize uint64) Verdict {
	required := e.Required(problemSize)

	if problemSize == 0 {
		return Verdict{Fits: true, Known: true}
	}

	avail, err := e.probe.Available()
	if err != nil {
		e.logger.Warn("available memory unknown",
			slog.String("error", err.Error()),
		)

		return Verdict{Fits: true, Required: required}
	}

	budget := float64(avail) * e.cfg.SafetyFraction

	return Verdict{
		Fits:     float64(required) <= budget,
		Required: required,
		Budget:   uint64(budget),
		Known:    true,
	}
}
