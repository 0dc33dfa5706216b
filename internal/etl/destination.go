package etl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"usageexport/internal/domain"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes records into a target. The only destination is a
// CSV file, written by one of two serialization strategies.

var (
	// ErrNoRecords is returned when there is nothing to export.
	ErrNoRecords = errors.New("no data to export")
	// ErrStrategyUnavailable is returned by a strategy that cannot serve a
	// request; in auto mode the writer falls back to the next strategy.
	ErrStrategyUnavailable = errors.New("strategy unavailable")
	// ErrUnknownStrategy is returned for an unrecognized strategy mode.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

const (
	StrategyFrame  = "frame"
	StrategyStream = "stream"
)

// StrategyMode selects which strategies the writer tries, in order.
type StrategyMode string

const (
	ModeAuto   StrategyMode = "auto"   // frame, then stream when frame is unavailable
	ModeFrame  StrategyMode = "frame"  // frame only
	ModeStream StrategyMode = "stream" // stream only
)

// ParseStrategyMode validates a mode string. Empty selects ModeAuto.
func ParseStrategyMode(s string) (StrategyMode, error) {
	switch StrategyMode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeFrame, ModeStream:
		return StrategyMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Strategy serializes records as CSV with a header row.
type Strategy interface {
	Name() string
	Write(ctx context.Context, w io.Writer, columns []string, records []Record) error
}

// Destination writes records to a target system.
type Destination interface {
	Write(ctx context.Context, target string, columns []string, records []Record) (*WriteResult, error)
}

// WriteResult describes a finished write.
type WriteResult struct {
	Path     string `json:"path"`
	Rows     int    `json:"rows"`
	Strategy string `json:"strategy"`
}

// ── CSV File Destination ───────────────────────────────────

// CSVFileWriter implements Destination for CSV files.
type CSVFileWriter struct {
	Mode   StrategyMode
	Frame  *FrameStrategy
	Logger logrus.FieldLogger
}

// NewCSVFileWriter returns a writer in the given mode with a default frame budget.
func NewCSVFileWriter(mode StrategyMode, logger logrus.FieldLogger) *CSVFileWriter {
	return &CSVFileWriter{
		Mode:   mode,
		Frame:  &FrameStrategy{MemoryFraction: DefaultMemoryFraction},
		Logger: logger,
	}
}

func (w *CSVFileWriter) Write(ctx context.Context, path string, columns []string, records []Record) (*WriteResult, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	columns = domain.Columns(columns)

	strategies, err := w.strategies()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	log := w.logger().WithField("output", path)
	for i, s := range strategies {
		err := writeAtomic(ctx, dir, path, func(out io.Writer) error {
			return s.Write(ctx, out, columns, records)
		})
		if err == nil {
			log.WithField("strategy", s.Name()).Infof("Exported %d records to %s", len(records), path)
			return &WriteResult{Path: path, Rows: len(records), Strategy: s.Name()}, nil
		}
		if errors.Is(err, ErrStrategyUnavailable) && i < len(strategies)-1 {
			log.WithError(err).Warnf("%s strategy unavailable, falling back to %s", s.Name(), strategies[i+1].Name())
			continue
		}
		return nil, fmt.Errorf("%s strategy: %w", s.Name(), err)
	}
	return nil, ErrStrategyUnavailable
}

func (w *CSVFileWriter) strategies() ([]Strategy, error) {
	frame := w.Frame
	if frame == nil {
		frame = &FrameStrategy{MemoryFraction: DefaultMemoryFraction}
	}
	mode, err := ParseStrategyMode(string(w.Mode))
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeFrame:
		return []Strategy{frame}, nil
	case ModeStream:
		return []Strategy{StreamStrategy{}}, nil
	default:
		return []Strategy{frame, StreamStrategy{}}, nil
	}
}

func (w *CSVFileWriter) logger() logrus.FieldLogger {
	if w.Logger == nil {
		return logrus.StandardLogger()
	}
	return w.Logger
}

// writeAtomic writes into a temp file next to path and renames it into
// place only when fn succeeds.
func writeAtomic(ctx context.Context, dir, path string, fn func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(dir, ".usage-export-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = fn(buf); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err = tmp.Chmod(0644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
