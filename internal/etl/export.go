package etl

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ExportOption customizes ExportUsageToCSV.
type ExportOption func(*CSVFileWriter)

// WithStrategy selects the strategy mode (default ModeAuto).
func WithStrategy(mode StrategyMode) ExportOption {
	return func(w *CSVFileWriter) { w.Mode = mode }
}

// WithFrameBudget sets the frame strategy's cell cap and memory fraction.
func WithFrameBudget(maxCells int64, memoryFraction float64) ExportOption {
	return func(w *CSVFileWriter) {
		w.Frame = &FrameStrategy{MaxCells: maxCells, MemoryFraction: memoryFraction}
	}
}

// WithLogger sets the logger used to report the export.
func WithLogger(l logrus.FieldLogger) ExportOption {
	return func(w *CSVFileWriter) { w.Logger = l }
}

// ExportUsageToCSV writes records to filename as CSV with a header row.
// A nil or empty columns list selects the default usage columns; a field
// missing from a record is written as an empty cell. The frame strategy is
// tried first and the stream strategy serves as its fallback.
// An empty records slice returns ErrNoRecords.
func ExportUsageToCSV(ctx context.Context, records []Record, filename string, columns []string, opts ...ExportOption) (*WriteResult, error) {
	w := NewCSVFileWriter(ModeAuto, nil)
	for _, opt := range opts {
		opt(w)
	}
	return w.Write(ctx, filename, columns, records)
}
