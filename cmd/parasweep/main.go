// Package main provides the CLI entry point for parasweep, a harness for
// benchmarking serial against multi-threaded simulation binaries across a
// problem-size × thread-count matrix.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/parasweep/aggregate"
	"github.com/weiihann/parasweep/chart"
	"github.com/weiihann/parasweep/membudget"
	"github.com/weiihann/parasweep/report"
	"github.com/weiihann/parasweep/store"
	"github.com/weiihann/parasweep/sweep"
	"github.com/weiihann/parasweep/trial"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	root := newRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "parasweep",
		Short: "Serial vs parallel simulation benchmark sweeps",
		Long: `Parasweep drives pre-built serial and parallel simulation binaries
through a problem-size × thread-count matrix, skips sizes whose estimated
allocation does not fit in available memory, records per-trial elapsed times
to an append-only CSV store, and derives the speedup of the best parallel
configuration against the serial baseline for each size.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newReportCmd(logger))
	root.AddCommand(newPlotCmd(logger))

	return root
}

type runOptions struct {
	serialBin   string
	parallelBin string
	outPath     string
	reset       bool
	outputJSON  bool
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		opts       runOptions
		configPath string
		sizes      []int64
		minPower   int
		maxPower   int
		threads    []int
		repeats    int
		timeout    time.Duration
		fraction   float64
		elemBytes  uint64
		multiplier float64
		retry      bool
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark sweep and append results to the store",
		Long: `Run serial and parallel trials for every feasible problem size and
thread count, then aggregate the accumulated store and print a report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := sweep.DefaultConfig()

			if configPath != "" {
				var err error

				cfg, err = sweep.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}

			flags := cmd.Flags()

			if flags.Changed("min-power") || flags.Changed("max-power") {
				cfg.Sizes = sweep.PowersOfTwo(minPower, maxPower)
			}

			if flags.Changed("sizes") {
				cfg.Sizes = make([]uint64, 0, len(sizes))
				for _, n := range sizes {
					if n <= 0 {
						return fmt.Errorf("problem size must be positive, got %d", n)
					}

					cfg.Sizes = append(cfg.Sizes, uint64(n))
				}
			}

			if flags.Changed("threads") {
				cfg.Threads = threads
			}
			if flags.Changed("repeats") {
				cfg.Repeats = repeats
			}
			if flags.Changed("timeout") {
				cfg.Timeout = sweep.Duration(timeout)
			}
			if flags.Changed("mem-fraction") {
				cfg.SafetyFraction = fraction
			}
			if flags.Changed("bytes-per-element") {
				cfg.BytesPerElement = elemBytes
			}
			if flags.Changed("mem-multiplier") {
				cfg.MemMultiplier = multiplier
			}
			if flags.Changed("retry") {
				cfg.RetryOnFailure = retry
			}
			if flags.Changed("max-retries") {
				cfg.MaxRetries = maxRetries
			}

			return runSweep(cmd.Context(), logger, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.serialBin, "serial-bin", "",
		"Path to the serial simulation binary")
	flags.StringVar(&opts.parallelBin, "parallel-bin", "",
		"Path to the parallel simulation binary")
	flags.StringVar(&opts.outPath, "out", "results.csv",
		"Result store CSV path (appended, never overwritten)")
	flags.BoolVar(&opts.reset, "reset", false,
		"Truncate the result store before the sweep")
	flags.BoolVar(&opts.outputJSON, "json", false,
		"Print the aggregated report as JSON instead of a table")
	flags.StringVar(&configPath, "config", "",
		"YAML sweep configuration file")
	flags.Int64SliceVar(&sizes, "sizes", nil,
		"Explicit problem sizes (overrides powers)")
	flags.IntVar(&minPower, "min-power", 2,
		"Smallest problem size as a power of two")
	flags.IntVar(&maxPower, "max-power", 30,
		"Largest problem size as a power of two")
	flags.IntSliceVar(&threads, "threads", []int{1, 2, 4, 8, 16},
		"Thread counts for the parallel binary")
	flags.IntVar(&repeats, "repeats", 1,
		"Independent trials per cell")
	flags.DurationVar(&timeout, "timeout", 600*time.Second,
		"Per-trial wall-clock timeout")
	flags.Float64Var(&fraction, "mem-fraction", 0.4,
		"Fraction of available memory one trial may claim")
	flags.Uint64Var(&elemBytes, "bytes-per-element", 8,
		"Bytes per element of the primary array")
	flags.Float64Var(&multiplier, "mem-multiplier", 1.0,
		"Headroom multiplier for secondary allocations")
	flags.BoolVar(&retry, "retry", false,
		"Retry failed trials with exponential backoff")
	flags.IntVar(&maxRetries, "max-retries", 2,
		"Retry attempts per failed trial when --retry is set")

	cmd.MarkFlagRequired("serial-bin")
	cmd.MarkFlagRequired("parallel-bin")

	return cmd
}

func runSweep(
	ctx context.Context,
	logger *slog.Logger,
	cfg sweep.Config,
	opts runOptions,
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting sweep",
		slog.Int("sizes", len(cfg.Sizes)),
		slog.Any("threads", cfg.Threads),
		slog.Int("repeats", cfg.Repeats),
		slog.Duration("timeout", time.Duration(cfg.Timeout)),
		slog.Float64("mem_fraction", cfg.SafetyFraction),
	)

	est := membudget.NewEstimator(membudget.Config{
		SafetyFraction:  cfg.SafetyFraction,
		BytesPerElement: cfg.BytesPerElement,
		Multiplier:      cfg.MemMultiplier,
	}, nil, logger)

	timeout := time.Duration(cfg.Timeout)
	serial := trial.NewExecutor(trial.Serial, opts.serialBin, timeout, logger)
	parallel := trial.NewExecutor(trial.Parallel, opts.parallelBin, timeout, logger)

	ctrl := sweep.NewController(cfg, serial, parallel, est, logger)

	st, err := store.Open(opts.outPath, logger)
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}

	if opts.reset {
		if err := st.Reset(); err != nil {
			return fmt.Errorf("reset result store: %w", err)
		}
	}

	records, runErr := ctrl.Run(ctx)

	if len(records) > 0 {
		if err := st.Append(records); err != nil {
			return fmt.Errorf("persist records: %w", err)
		}

		logger.Info("records persisted",
			slog.Int("count", len(records)),
			slog.String("path", st.Path()),
		)
	}

	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) {
			return runErr
		}

		logger.Warn("sweep interrupted, partial results persisted")
	}

	all, err := st.LoadAll()
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	res := aggregate.Aggregate(all)
	if len(res.Cells) == 0 {
		logger.Warn("no successful trials to report")

		return nil
	}

	if opts.outputJSON {
		return report.GenerateJSON(os.Stdout, res)
	}

	return report.Generate(os.Stdout, res)
}

func newReportCmd(logger *slog.Logger) *cobra.Command {
	var (
		inPath     string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate the result store and print a comparison table",
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := loadAggregated(inPath, logger)
			if err != nil {
				return err
			}

			if outputJSON {
				return report.GenerateJSON(os.Stdout, res)
			}

			return report.Generate(os.Stdout, res)
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "results.csv", "Result store CSV path")
	cmd.Flags().BoolVar(&outputJSON, "json", false,
		"Print the report as JSON instead of a table")

	return cmd
}

func newPlotCmd(logger *slog.Logger) *cobra.Command {
	var (
		inPath string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render PNG figures from the result store",
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := loadAggregated(inPath, logger)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir %s: %w", outDir, err)
			}

			if err := chart.Render(res, outDir); err != nil {
				return err
			}

			logger.Info("figures written", slog.String("dir", outDir))

			return nil
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "results.csv", "Result store CSV path")
	cmd.Flags().StringVar(&outDir, "out-dir", "charts",
		"Directory for rendered figures")

	return cmd
}

func loadAggregated(path string, logger *slog.Logger) (aggregate.Result, error) {
	if _, err := os.Stat(path); err != nil {
		return aggregate.Result{}, fmt.Errorf("result store %s: %w", path, err)
	}

	st, err := store.Open(path, logger)
	if err != nil {
		return aggregate.Result{}, err
	}

	records, err := st.LoadAll()
	if err != nil {
		return aggregate.Result{}, err
	}

	return aggregate.Aggregate(records), nil
}
