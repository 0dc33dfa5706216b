package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"usageexport/internal/domain"
)

// ── Export job ─────────────────────────────────────────────
// Orchestrates: source.Read → transform chain → CSV destination.

// ExportJob holds the configuration for a single export.
type ExportJob struct {
	ID         string            `json:"id"`
	SourceType string            `json:"sourceType"`
	SourceCfg  SourceConfig      `json:"sourceConfig"`
	Transforms []TransformConfig `json:"transforms,omitempty"`
	Output     string            `json:"output"`
	Columns    []string          `json:"columns,omitempty"`
}

// ExportResult is the outcome of running an export job.
type ExportResult struct {
	JobID       string           `json:"jobId"`
	Status      domain.RunStatus `json:"status"`
	Output      string           `json:"output"`
	Strategy    string           `json:"strategy,omitempty"`
	Columns     []string         `json:"columns"`
	RowsRead    int              `json:"rowsRead"`
	RowsWritten int              `json:"rowsWritten"`
	Duration    time.Duration    `json:"duration"`
	Error       string           `json:"error,omitempty"`
}

// ── Engine ─────────────────────────────────────────────────

// Engine runs export jobs using the registered sources and a destination.
type Engine struct {
	Dest   Destination
	Logger logrus.FieldLogger
}

// RunExport executes an export job end-to-end. The returned result is
// never nil, even when err is not.
func (e *Engine) RunExport(ctx context.Context, job *ExportJob) (*ExportResult, error) {
	start := time.Now()
	result := &ExportResult{JobID: job.ID, Output: job.Output, Columns: domain.Columns(job.Columns)}
	fail := func(stage string, err error) (*ExportResult, error) {
		result.Status = domain.RunError
		result.Error = fmt.Sprintf("%s: %s", stage, err)
		result.Duration = time.Since(start)
		return result, fmt.Errorf("%s: %w", stage, err)
	}

	// 1. Resolve source from registry.
	source, err := GetSource(job.SourceType)
	if err != nil {
		return fail("source", err)
	}
	if missing := source.Spec().Missing(job.SourceCfg); len(missing) > 0 {
		return fail("source", fmt.Errorf("missing config: %s", strings.Join(missing, ", ")))
	}

	// 2. Build transformer chain from config.
	transformers, err := BuildTransformers(job.Transforms)
	if err != nil {
		return fail("transforms", err)
	}

	// 3. Read + transform records.
	recCh, errCh := source.Read(ctx, job.SourceCfg)
	var records []Record
	for rec := range recCh {
		result.RowsRead++
		transformed, keep := ApplyTransformers(rec, transformers)
		if keep {
			records = append(records, transformed)
		}
	}
	if err := <-errCh; err != nil {
		return fail("read", err)
	}
	if err := ctx.Err(); err != nil {
		return fail("read", err)
	}

	// 3b. Apply batch transforms (sort).
	records = ApplyBatchSort(records, transformers)

	log := e.logger().WithFields(logrus.Fields{"job": job.ID, "source": job.SourceType})
	schema := DeriveSchema(records)
	for _, c := range result.Columns {
		if !schema.Has(c) {
			log.Debugf("column %q is absent from every record; it will be empty", c)
		}
	}
	log.Debugf("read %d records, %d kept after transforms", result.RowsRead, len(records))

	// 4. Write to destination.
	wr, err := e.Dest.Write(ctx, job.Output, result.Columns, records)
	if err != nil {
		return fail("write", err)
	}

	result.Status = domain.RunSuccess
	result.RowsWritten = wr.Rows
	result.Strategy = wr.Strategy
	result.Duration = time.Since(start)
	return result, nil
}

// Preview executes only the source read phase and returns up to maxRows records.
func (e *Engine) Preview(ctx context.Context, sourceType string, cfg SourceConfig, maxRows int) ([]Record, *Schema, error) {
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schema, err := source.Discover(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("discover: %w", err)
	}

	recCh, errCh := source.Read(ctx, cfg)

	var records []Record
	for rec := range recCh {
		records = append(records, rec)
		if len(records) >= maxRows {
			break
		}
	}

	// Stop the producer and drain what it already queued.
	cancel()
	go func() {
		for range recCh {
		}
	}()
	if err := <-errCh; err != nil {
		return records, schema, err
	}
	return records, schema, nil
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// DeriveSchema builds a schema from the keys present in records, sorted by name.
func DeriveSchema(records []Record) *Schema {
	types := make(map[string]string)
	for _, r := range records {
		for k, v := range r.Data {
			if t, ok := types[k]; !ok || (t == "text" && v != nil) {
				types[k] = inferType(v)
			}
		}
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := &Schema{Fields: make([]Field, 0, len(names))}
	for _, name := range names {
		schema.Fields = append(schema.Fields, Field{Name: name, Type: types[name]})
	}
	return schema
}

func inferType(v any) string {
	switch v.(type) {
	case float64, float32, int, int64:
		return "number"
	case bool:
		return "boolean"
	case time.Time:
		return "datetime"
	default:
		if _, ok := toFloatSafe(v); ok {
			if _, isString := v.(string); !isString {
				return "number"
			}
		}
		return "text"
	}
}
