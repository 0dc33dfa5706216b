package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// StreamStrategy writes records row by row without an intermediate table.
// A column missing from a record is written as the empty string.
type StreamStrategy struct{}

func (StreamStrategy) Name() string { return StrategyStream }

func (StreamStrategy) Write(ctx context.Context, w io.Writer, columns []string, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(columns))
	for i, rec := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for j, c := range columns {
			v, ok := rec.Value(c)
			if !ok {
				row[j] = ""
				continue
			}
			row[j] = FormatCell(v)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
