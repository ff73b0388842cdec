package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/parasweep/aggregate"
	"github.com/weiihann/parasweep/trial"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTemp(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "results.csv"), testLogger())
	require.NoError(t, err)

	return s
}

func TestRoundTrip(t *testing.T) {
	s := openTemp(t)

	in := []trial.Record{
		{Mode: trial.Serial, ProblemSize: 4096, ThreadCount: 1,
			Elapsed: trial.Seconds(0.1823)},
		{Mode: trial.Parallel, ProblemSize: 4096, ThreadCount: 4,
			Elapsed: trial.Seconds(0.0512)},
		// Failed trial: elapsed stays absent through the round trip.
		{Mode: trial.Parallel, ProblemSize: 8192, ThreadCount: 8, Iteration: 2},
	}

	require.NoError(t, s.Append(in))

	out, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, trial.Serial, out[0].Mode)
	assert.Equal(t, uint64(4096), out[0].ProblemSize)
	require.NotNil(t, out[0].Elapsed)
	assert.Equal(t, 0.1823, *out[0].Elapsed)

	require.NotNil(t, out[1].Elapsed)
	assert.Equal(t, 0.0512, *out[1].Elapsed)

	assert.Nil(t, out[2].Elapsed)
	assert.Equal(t, 2, out[2].Iteration)
}

func TestAppendAccumulates(t *testing.T) {
	s := openTemp(t)

	first := []trial.Record{
		{Mode: trial.Serial, ProblemSize: 1024, ThreadCount: 1,
			Elapsed: trial.Seconds(0.2)},
	}
	second := []trial.Record{
		{Mode: trial.Parallel, ProblemSize: 1024, ThreadCount: 2,
			Elapsed: trial.Seconds(0.12)},
	}

	require.NoError(t, s.Append(first))
	require.NoError(t, s.Append(second))

	out, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, out, 2, "second append must not overwrite the first")
}

func TestOpenExistingKeepsData(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Append([]trial.Record{
		{Mode: trial.Serial, ProblemSize: 64, ThreadCount: 1,
			Elapsed: trial.Seconds(1)},
	}))

	// Reopening the same path must not truncate.
	s2, err := Open(s.Path(), testLogger())
	require.NoError(t, err)

	out, err := s2.LoadAll()
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestLoadAllSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")

	raw := strings.Join([]string{
		"mode,threadCount,problemSize,elapsedSeconds,iterationIndex",
		"serial,1,1024,0.5,0",
		"parallel,4,1024",          // truncated write
		"warp,2,1024,0.1,0",        // unknown mode
		"parallel,zero,1024,0.1,0", // bad thread count
		"parallel,2,1024,abc,0",    // bad elapsed
		"parallel,2,1024,-1,0",     // negative elapsed
		"parallel,2,0,0.1,0",       // zero size
		"parallel,2,2048,,1",       // failed trial, still valid
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := Open(path, testLogger())
	require.NoError(t, err)

	out, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, trial.Serial, out[0].Mode)
	assert.Equal(t, uint64(2048), out[1].ProblemSize)
	assert.Nil(t, out[1].Elapsed)
}

func TestLoadAllNormalizesSerialThreads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")

	raw := "mode,threadCount,problemSize,elapsedSeconds,iterationIndex\n" +
		"serial,8,1024,0.5,0\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := Open(path, testLogger())
	require.NoError(t, err)

	out, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ThreadCount)
}

func TestAggregationSurvivesRoundTrip(t *testing.T) {
	s := openTemp(t)

	in := []trial.Record{
		{Mode: trial.Serial, ProblemSize: 1024, ThreadCount: 1,
			Elapsed: trial.Seconds(0.20)},
		{Mode: trial.Parallel, ProblemSize: 1024, ThreadCount: 2,
			Elapsed: trial.Seconds(0.12)},
		{Mode: trial.Parallel, ProblemSize: 1024, ThreadCount: 4,
			Elapsed: trial.Seconds(0.07)},
		{Mode: trial.Parallel, ProblemSize: 2048, ThreadCount: 4},
	}
	require.NoError(t, s.Append(in))

	out, err := s.LoadAll()
	require.NoError(t, err)

	assert.Equal(t, aggregate.Aggregate(in), aggregate.Aggregate(out),
		"aggregating reloaded records must match the in-memory aggregation")
}

func TestReset(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Append([]trial.Record{
		{Mode: trial.Serial, ProblemSize: 64, ThreadCount: 1,
			Elapsed: trial.Seconds(1)},
	}))

	require.NoError(t, s.Reset())

	out, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, out)
}
