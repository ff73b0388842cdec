package sweep

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/parasweep/membudget"
	"github.com/weiihann/parasweep/trial"
)

type stubProbe struct {
	avail uint64
	err   error
}

func (p stubProbe) Available() (uint64, error) {
	return p.avail, p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))

	return path
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sizes = []uint64{64, 128}
	cfg.Threads = []int{1, 2}
	cfg.Timeout = Duration(10 * time.Second)

	return cfg
}

func newController(
	t *testing.T, cfg Config, serialBin, parallelBin string, probe membudget.Probe,
) *Controller {
	t.Helper()

	logger := testLogger()
	est := membudget.NewEstimator(membudget.Config{
		SafetyFraction:  cfg.SafetyFraction,
		BytesPerElement: cfg.BytesPerElement,
		Multiplier:      cfg.MemMultiplier,
	}, probe, logger)

	timeout := time.Duration(cfg.Timeout)
	serial := trial.NewExecutor(trial.Serial, serialBin, timeout, logger)
	parallel := trial.NewExecutor(trial.Parallel, parallelBin, timeout, logger)

	return NewController(cfg, serial, parallel, est, logger)
}

func TestRunMissingExecutableAborts(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.1\n")

	ctrl := newController(
		t, testConfig(), serial, filepath.Join(dir, "missing"),
		stubProbe{avail: 1 << 30},
	)

	records, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, records, "no trial may run on a setup fault")
}

func TestRunFullMatrix(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")
	parallel := writeScript(t, dir, "parallel", "echo 0.1\n")

	ctrl := newController(t, testConfig(), serial, parallel, stubProbe{avail: 1 << 30})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	// Per size: 1 serial + 2 parallel cells, repeats=1.
	require.Len(t, records, 6)

	// Ascending sizes; serial first, then thread counts ascending.
	assert.Equal(t, trial.Serial, records[0].Mode)
	assert.Equal(t, uint64(64), records[0].ProblemSize)
	assert.Equal(t, 1, records[0].ThreadCount)
	assert.Equal(t, trial.Parallel, records[1].Mode)
	assert.Equal(t, 1, records[1].ThreadCount)
	assert.Equal(t, 2, records[2].ThreadCount)
	assert.Equal(t, uint64(128), records[3].ProblemSize)

	for _, r := range records {
		assert.True(t, r.Succeeded())
	}
}

func TestRunSkipsInfeasibleSize(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")
	parallel := writeScript(t, dir, "parallel", "echo 0.1\n")

	cfg := testConfig()
	cfg.Sizes = []uint64{64, 1 << 30}

	// 2^30 * 8 bytes = 8 GiB against a 3.2 GB budget: skipped entirely.
	ctrl := newController(t, cfg, serial, parallel, stubProbe{avail: 8_000_000_000})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	for _, r := range records {
		assert.Equal(t, uint64(64), r.ProblemSize,
			"no record may exist for the skipped size")
	}
	assert.Len(t, records, 3)
}

func TestRunUnknownBudgetProceeds(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")
	parallel := writeScript(t, dir, "parallel", "echo 0.1\n")

	cfg := testConfig()
	cfg.Sizes = []uint64{64}

	ctrl := newController(t, cfg, serial, parallel,
		stubProbe{err: os.ErrPermission})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 3, "unknown memory must not skip sizes")
}

func TestRunSerialFailureStillRunsParallel(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "exit 1\n")
	parallel := writeScript(t, dir, "parallel", "echo 0.1\n")

	cfg := testConfig()
	cfg.Sizes = []uint64{64}

	ctrl := newController(t, cfg, serial, parallel, stubProbe{avail: 1 << 30})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.False(t, records[0].Succeeded())
	assert.Equal(t, trial.FailExit, records[0].FailReason)
	assert.True(t, records[1].Succeeded())
	assert.True(t, records[2].Succeeded())
}

func TestRunUnparsableOutputDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")
	parallel := writeScript(t, dir, "parallel", "echo abc\n")

	cfg := testConfig()
	cfg.Sizes = []uint64{64, 128}

	ctrl := newController(t, cfg, serial, parallel, stubProbe{avail: 1 << 30})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 6, "parse failures must not stop the sweep")

	for _, r := range records {
		if r.Mode == trial.Parallel {
			assert.False(t, r.Succeeded())
			assert.Equal(t, trial.FailParse, r.FailReason)
		} else {
			assert.True(t, r.Succeeded())
		}
	}
}

func TestRunRepeats(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")
	parallel := writeScript(t, dir, "parallel", "echo 0.1\n")

	cfg := testConfig()
	cfg.Sizes = []uint64{64}
	cfg.Threads = []int{2}
	cfg.Repeats = 3

	ctrl := newController(t, cfg, serial, parallel, stubProbe{avail: 1 << 30})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 6)

	assert.Equal(t, 0, records[0].Iteration)
	assert.Equal(t, 1, records[1].Iteration)
	assert.Equal(t, 2, records[2].Iteration)
}

func TestRunRetryOnFailure(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")

	// Fails on the first invocation, succeeds afterwards.
	marker := filepath.Join(dir, "marker")
	parallel := writeScript(t, dir, "parallel",
		"if [ ! -f "+marker+" ]; then touch "+marker+"; exit 1; fi\necho 0.1\n")

	cfg := testConfig()
	cfg.Sizes = []uint64{64}
	cfg.Threads = []int{2}
	cfg.RetryOnFailure = true
	cfg.MaxRetries = 2

	ctrl := newController(t, cfg, serial, parallel, stubProbe{avail: 1 << 30})

	records, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.True(t, records[1].Succeeded(), "retry must replace the failure")
}

func TestRunCancelledContext(t *testing.T) {
	dir := t.TempDir()
	serial := writeScript(t, dir, "serial", "echo 0.2\n")
	parallel := writeScript(t, dir, "parallel", "echo 0.1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := newController(t, testConfig(), serial, parallel, stubProbe{avail: 1 << 30})

	records, err := ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sizes", func(c *Config) { c.Sizes = nil }},
		{"zero size", func(c *Config) { c.Sizes = []uint64{0} }},
		{"no threads", func(c *Config) { c.Threads = nil }},
		{"zero threads", func(c *Config) { c.Threads = []int{0} }},
		{"zero repeats", func(c *Config) { c.Repeats = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"fraction too big", func(c *Config) { c.SafetyFraction = 1.5 }},
		{"fraction zero", func(c *Config) { c.SafetyFraction = 0 }},
		{"zero element width", func(c *Config) { c.BytesPerElement = 0 }},
		{"zero multiplier", func(c *Config) { c.MemMultiplier = 0 }},
		{"retry without budget", func(c *Config) {
			c.RetryOnFailure = true
			c.MaxRetries = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")

	raw := `
sizes: [4096, 8192]
threads: [2, 4]
repeats: 3
timeout: 300s
safety_fraction: 0.5
retry_on_failure: true
max_retries: 1
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []uint64{4096, 8192}, cfg.Sizes)
	assert.Equal(t, []int{2, 4}, cfg.Threads)
	assert.Equal(t, 3, cfg.Repeats)
	assert.Equal(t, 300*time.Second, time.Duration(cfg.Timeout))
	assert.Equal(t, 0.5, cfg.SafetyFraction)
	assert.True(t, cfg.RetryOnFailure)

	// Unset keys keep their defaults.
	assert.Equal(t, uint64(8), cfg.BytesPerElement)
	assert.Equal(t, 1.0, cfg.MemMultiplier)
}

func TestPowersOfTwo(t *testing.T) {
	assert.Equal(t, []uint64{4, 8, 16}, PowersOfTwo(2, 4))
	assert.Nil(t, PowersOfTwo(5, 4))
	assert.Nil(t, PowersOfTwo(-1, 4))
}
