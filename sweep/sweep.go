// Package sweep drives the problem-size × thread-count trial matrix:
// serial baseline first, then the parallel thread ladder, one subprocess
// at a time so no two trials contend for the machine.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/weiihann/parasweep/membudget"
	"github.com/weiihann/parasweep/trial"
)

// Controller runs the full sweep.
type Controller struct {
	cfg      Config
	serial   *trial.Executor
	parallel *trial.Executor
	budget   *membudget.Estimator
	logger   *slog.Logger
}

// NewController wires the controller to its executors and the memory
// estimator. The config is validated by Run.
func NewController(
	cfg Config,
	serial, parallel *trial.Executor,
	budget *membudget.Estimator,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		cfg:      cfg,
		serial:   serial,
		parallel: parallel,
		budget:   budget,
		logger:   logger.With(slog.String("component", "sweep")),
	}
}

// Run executes the sweep and returns every record produced, including
// failed trials. A missing executable aborts before any trial runs;
// individual trial failures and infeasible sizes never abort the sweep.
// On context cancellation the records collected so far are returned
// alongside the context error.
func (c *Controller) Run(ctx context.Context) ([]trial.Record, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sweep config: %w", err)
	}

	for _, ex := range []*trial.Executor{c.serial, c.parallel} {
		if _, err := os.Stat(ex.BinaryPath); err != nil {
			return nil, fmt.Errorf("executable %s: %w", ex.BinaryPath, err)
		}
	}

	sizes := append([]uint64(nil), c.cfg.Sizes...)
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	threads := append([]int(nil), c.cfg.Threads...)
	sort.Ints(threads)

	var records []trial.Record

	for _, size := range sizes {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		v := c.budget.Check(size)
		if v.Known && !v.Fits {
			c.logger.Warn("skipping infeasible size",
				slog.Uint64("problem_size", size),
				slog.String("required", humanize.Bytes(v.Required)),
				slog.String("budget", humanize.Bytes(v.Budget)),
			)

			continue
		}

		if !v.Known {
			c.logger.Warn("available memory unknown, attempting size anyway",
				slog.Uint64("problem_size", size),
				slog.String("required", humanize.Bytes(v.Required)),
			)
		}

		c.logger.Info("running size", slog.Uint64("problem_size", size))

		// Serial baseline first. A failed baseline only costs the
		// speedup entry for this size, never the parallel trials.
		for iter := 0; iter < c.cfg.Repeats; iter++ {
			rec, err := c.runCell(ctx, c.serial, size, 1, iter)
			if err != nil {
				return records, err
			}

			records = append(records, rec)
		}

		for _, t := range threads {
			for iter := 0; iter < c.cfg.Repeats; iter++ {
				if err := ctx.Err(); err != nil {
					return records, err
				}

				rec, err := c.runCell(ctx, c.parallel, size, t, iter)
				if err != nil {
					return records, err
				}

				records = append(records, rec)
			}
		}
	}

	return records, nil
}

// runCell executes one trial, optionally retrying failures with
// exponential backoff. A retried record replaces the failure only on
// success; otherwise the last failure is kept.
func (c *Controller) runCell(
	ctx context.Context,
	ex *trial.Executor,
	size uint64,
	threadCount, iter int,
) (trial.Record, error) {
	rec, err := ex.Run(ctx, size, threadCount, iter)
	if err != nil {
		return rec, err
	}

	if rec.Succeeded() || !c.cfg.RetryOnFailure {
		return rec, nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond

	policy := backoff.WithContext(
		backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries)), ctx,
	)

	var setupErr error

	retryErr := backoff.Retry(func() error {
		again, runErr := ex.Run(ctx, size, threadCount, iter)
		if runErr != nil {
			setupErr = runErr

			return backoff.Permanent(runErr)
		}

		if !again.Succeeded() {
			return fmt.Errorf("trial failed: %s", again.FailReason)
		}

		rec = again

		return nil
	}, policy)

	if setupErr != nil {
		return rec, setupErr
	}

	if retryErr != nil {
		c.logger.Warn("trial retries exhausted",
			slog.Uint64("problem_size", size),
			slog.Int("threads", threadCount),
			slog.Int("max_retries", c.cfg.MaxRetries),
			slog.String("reason", string(rec.FailReason)),
		)
	}

	return rec, nil
}
