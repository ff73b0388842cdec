// Package store persists trial records to an append-only CSV file. The
// schema is stable across runs so results from separate sweeps accumulate
// in one file for longitudinal comparison.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/weiihann/parasweep/trial"
)

var header = []string{
	"mode", "threadCount", "problemSize", "elapsedSeconds", "iterationIndex",
}

// Store is a CSV-backed result store. Append never rewrites prior rows;
// the file is only truncated by an explicit Reset.
type Store struct {
	path   string
	logger *slog.Logger
}

// Open returns a Store for path, creating the file with a header row when
// it does not exist yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("store", path)),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Append writes records to the end of the file.
func (s *Store) Append(records []trial.Record) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)

	for _, r := range records {
		elapsed := ""
		if r.Elapsed != nil {
			elapsed = strconv.FormatFloat(*r.Elapsed, 'f', -1, 64)
		}

		row := []string{
			string(r.Mode),
			strconv.Itoa(r.ThreadCount),
			strconv.FormatUint(r.ProblemSize, 10),
			elapsed,
			strconv.Itoa(r.Iteration),
		}

		if err := w.Write(row); err != nil {
			f.Close()

			return fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()

		return fmt.Errorf("flush %s: %w", s.path, err)
	}

	return f.Close()
}

// LoadAll reads every well-formed record in the file. Malformed rows,
// e.g. partial writes from an interrupted run, are skipped with a warning
// rather than failing the load.
func (s *Store) LoadAll() ([]trial.Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var records []trial.Record

	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			s.logger.Warn("skipping malformed row",
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)

			continue
		}

		// Files merged from multiple sweeps may contain repeated headers.
		if len(row) > 0 && row[0] == header[0] {
			continue
		}

		rec, err := parseRow(row)
		if err != nil {
			s.logger.Warn("skipping malformed row",
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)

			continue
		}

		if rec.Mode == trial.Serial && rec.ThreadCount != 1 {
			s.logger.Warn("normalizing serial row to one thread",
				slog.Int("line", line),
				slog.Int("thread_count", rec.ThreadCount),
			)

			rec.ThreadCount = 1
		}

		records = append(records, rec)
	}

	return records, nil
}

// Reset truncates the file back to a bare header, discarding all records.
func (s *Store) Reset() error {
	return s.writeHeader()
}

func (s *Store) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()

		return fmt.Errorf("write header: %w", err)
	}

	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()

		return fmt.Errorf("flush header: %w", err)
	}

	return f.Close()
}

func parseRow(row []string) (trial.Record, error) {
	var rec trial.Record

	if len(row) != len(header) {
		return rec, fmt.Errorf("expected %d fields, got %d", len(header), len(row))
	}

	switch trial.Mode(row[0]) {
	case trial.Serial, trial.Parallel:
		rec.Mode = trial.Mode(row[0])
	default:
		return rec, fmt.Errorf("unknown mode %q", row[0])
	}

	threads, err := strconv.Atoi(row[1])
	if err != nil || threads < 1 {
		return rec, fmt.Errorf("bad thread count %q", row[1])
	}
	rec.ThreadCount = threads

	size, err := strconv.ParseUint(row[2], 10, 64)
	if err != nil || size == 0 {
		return rec, fmt.Errorf("bad problem size %q", row[2])
	}
	rec.ProblemSize = size

	if row[3] != "" {
		elapsed, err := strconv.ParseFloat(row[3], 64)
		if err != nil || elapsed < 0 {
			return rec, fmt.Errorf("bad elapsed time %q", row[3])
		}

		rec.Elapsed = &elapsed
	}

	iter, err := strconv.Atoi(row[4])
	if err != nil || iter < 0 {
		return rec, fmt.Errorf("bad iteration index %q", row[4])
	}
	rec.Iteration = iter

	return rec, nil
}
