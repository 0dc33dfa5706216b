package domain

import "strings"

// Usage record fields exported when no column list is given.
const (
	FieldDate             = "date"
	FieldUsageHours       = "usage_hours"
	FieldAHI              = "AHI"
	FieldMaskLeakRate     = "mask_leak_rate"
	FieldPressureSettings = "pressure_settings"
)

// DefaultColumns is the CSV header used when the caller names no columns.
var DefaultColumns = []string{
	FieldDate,
	FieldUsageHours,
	FieldAHI,
	FieldMaskLeakRate,
	FieldPressureSettings,
}

// Columns returns cols, or a copy of DefaultColumns when cols is empty.
func Columns(cols []string) []string {
	if len(cols) == 0 {
		out := make([]string, len(DefaultColumns))
		copy(out, DefaultColumns)
		return out
	}
	return cols
}

// ParseColumns splits a comma-separated column list and trims each entry.
// Empty entries stay as empty header cells, so "a,,b" yields three columns.
// An empty string yields nil, which selects DefaultColumns.
func ParseColumns(s string) []string {
	if s == "" {
		return nil
	}
	return TrimColumns(strings.Split(s, ","))
}

// TrimColumns trims the whitespace around each name. An empty list yields nil.
func TrimColumns(cols []string) []string {
	if len(cols) == 0 {
		return nil
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
