package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/pbnjay/memory"
)

// ── Frame ──────────────────────────────────────────────────
// Column-oriented in-memory table. Every column holds one cell per
// record; absent fields are stored as nil and written as empty cells.

// Frame is a column-oriented table built from a batch of records.
type Frame struct {
	columns []string
	cells   map[string][]any
	rows    int
}

// NewFrame builds a frame from records. Columns appear in first-seen order;
// keys inside a single record are taken in sorted order.
func NewFrame(records []Record) *Frame {
	f := &Frame{cells: make(map[string][]any), rows: len(records)}
	for i, rec := range records {
		keys := make([]string, 0, len(rec.Data))
		for k := range rec.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			f.Ensure(k)
			f.cells[k][i] = rec.Data[k]
		}
	}
	return f
}

// Ensure adds col filled with nulls if the frame does not have it yet.
func (f *Frame) Ensure(col string) {
	if _, ok := f.cells[col]; ok {
		return
	}
	f.columns = append(f.columns, col)
	f.cells[col] = make([]any, f.rows)
}

// Columns returns the frame's column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.rows }

// Cell returns the value at row i of col; nil when the column is unknown.
func (f *Frame) Cell(col string, i int) any {
	c, ok := f.cells[col]
	if !ok || i < 0 || i >= len(c) {
		return nil
	}
	return c[i]
}

// WriteCSV writes a header row followed by every row projected onto columns.
func (f *Frame) WriteCSV(ctx context.Context, w io.Writer, columns []string) error {
	for _, c := range columns {
		f.Ensure(c)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(columns))
	for i := 0; i < f.rows; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j, c := range columns {
			row[j] = FormatCell(f.cells[c][i])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ── Frame strategy ─────────────────────────────────────────

const (
	// DefaultMemoryFraction is the share of system memory a frame may use
	// when no explicit cell cap is configured.
	DefaultMemoryFraction = 0.25

	// estimatedCellBytes approximates one interface value plus its payload.
	estimatedCellBytes = 64
)

// FrameStrategy materializes records as a Frame before writing.
// It reports ErrStrategyUnavailable when the frame would exceed its budget.
type FrameStrategy struct {
	// MaxCells caps rows × columns. Zero derives the cap from system memory.
	MaxCells int64
	// MemoryFraction is the share of total memory used when MaxCells is zero.
	MemoryFraction float64

	// totalMemory is swapped in tests.
	totalMemory func() uint64
}

func (s *FrameStrategy) Name() string { return StrategyFrame }

func (s *FrameStrategy) Write(ctx context.Context, w io.Writer, columns []string, records []Record) error {
	if err := s.checkBudget(records, columns); err != nil {
		return err
	}
	return NewFrame(records).WriteCSV(ctx, w, columns)
}

// checkBudget estimates the frame size from the distinct keys in records.
func (s *FrameStrategy) checkBudget(records []Record, columns []string) error {
	keys := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		keys[c] = struct{}{}
	}
	for _, r := range records {
		for k := range r.Data {
			keys[k] = struct{}{}
		}
	}
	cells := int64(len(records)) * int64(len(keys))

	limit := s.MaxCells
	if limit <= 0 {
		total := s.memoryTotal()
		if total == 0 {
			return nil
		}
		frac := s.MemoryFraction
		if frac <= 0 || frac > 1 {
			frac = DefaultMemoryFraction
		}
		limit = int64(float64(total)*frac) / estimatedCellBytes
	}
	if cells > limit {
		return fmt.Errorf("%w: frame needs %d cells, budget is %d", ErrStrategyUnavailable, cells, limit)
	}
	return nil
}

func (s *FrameStrategy) memoryTotal() uint64 {
	if s.totalMemory != nil {
		return s.totalMemory()
	}
	return memory.TotalMemory()
}
