package trial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ThreadEnvVar is the environment-level concurrency hint set alongside the
// thread-count argument. OpenMP-style binaries read this instead of argv,
// so both channels carry the same value.
const ThreadEnvVar = "OMP_NUM_THREADS"

// Executor launches one simulation binary per call.
type Executor struct {
	Mode       Mode
	BinaryPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewExecutor creates an Executor for the given engine binary. Timeout is
// the per-trial wall-clock limit; zero disables it.
func NewExecutor(
	mode Mode, binaryPath string, timeout time.Duration, logger *slog.Logger,
) *Executor {
	return &Executor{
		Mode:       mode,
		BinaryPath: binaryPath,
		Timeout:    timeout,
		Logger:     logger.With(slog.String("mode", string(mode))),
	}
}

// Run executes one trial and returns the resulting record. Trial-level
// failures (timeout, non-zero exit, unparsable output) are recorded on
// the returned Record; only misuse of the Executor itself is an error.
func (e *Executor) Run(
	ctx context.Context, problemSize uint64, threadCount, iteration int,
) (Record, error) {
	rec := Record{
		Mode:        e.Mode,
		ProblemSize: problemSize,
		ThreadCount: threadCount,
		Iteration:   iteration,
	}

	if threadCount < 1 {
		return rec, fmt.Errorf("thread count must be positive, got %d", threadCount)
	}

	if e.Mode == Serial && threadCount != 1 {
		return rec, fmt.Errorf(
			"serial trials run with one thread, got %d", threadCount,
		)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := []string{strconv.FormatUint(problemSize, 10)}
	if e.Mode == Parallel {
		args = append(args, strconv.Itoa(threadCount))
	}

	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)
	cmd.Env = append(os.Environ(), ThreadEnvVar+"="+strconv.Itoa(threadCount))

	// A killed binary may leave grandchildren holding the output pipes;
	// WaitDelay keeps a timed-out trial from stalling the whole sweep.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Info("starting trial",
		slog.Uint64("problem_size", problemSize),
		slog.Int("threads", threadCount),
		slog.Int("iteration", iteration),
	)

	wallStart := time.Now()
	runErr := cmd.Run()
	wallElapsed := time.Since(wallStart)

	if runErr != nil {
		rec.FailReason = FailExit
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			rec.FailReason = FailTimeout
		}

		e.Logger.Warn("trial failed",
			slog.Uint64("problem_size", problemSize),
			slog.Int("threads", threadCount),
			slog.String("reason", string(rec.FailReason)),
			slog.Duration("wall_time", wallElapsed),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)

		return rec, nil
	}

	elapsed, err := parseElapsed(stdout.String())
	if err != nil {
		rec.FailReason = FailParse

		e.Logger.Warn("could not parse trial output",
			slog.Uint64("problem_size", problemSize),
			slog.Int("threads", threadCount),
			slog.String("error", err.Error()),
		)

		return rec, nil
	}

	rec.Elapsed = &elapsed

	e.Logger.Info("trial finished",
		slog.Uint64("problem_size", problemSize),
		slog.Int("threads", threadCount),
		slog.Float64("elapsed_s", elapsed),
		slog.Duration("wall_time", wallElapsed),
	)

	return rec, nil
}

// parseElapsed interprets the last non-empty line of stdout as elapsed
// wall-clock seconds. Earlier lines are diagnostic and ignored. This is
// the entire output contract with the simulation binaries; keep every
// assumption about their stdout inside this function.
func parseElapsed(out string) (float64, error) {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("last output line %q is not a number: %w", line, err)
		}

		if v < 0 {
			return 0, fmt.Errorf("elapsed time %v is negative", v)
		}

		return v, nil
	}

	return 0, errors.New("empty output")
}
