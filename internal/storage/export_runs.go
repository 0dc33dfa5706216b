package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"usageexport/internal/domain"
)

// ExportRunStore implements domain.ExportRunStore using SQLite.
type ExportRunStore struct {
	db *DB
}

// NewExportRunStore creates a new ExportRunStore.
func NewExportRunStore(db *DB) *ExportRunStore {
	return &ExportRunStore{db: db}
}

var _ domain.ExportRunStore = (*ExportRunStore)(nil)

func (s *ExportRunStore) CreateRun(run *domain.ExportRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	cols, err := json.Marshal(run.Columns)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}

	_, err = s.db.conn.Exec(
		`INSERT INTO export_runs (id, source_type, source, output, strategy, columns_json,
		 rows_read, rows_written, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SourceType, run.Source, run.Output, run.Strategy, string(cols),
		run.RowsRead, run.RowsWritten, string(run.Status), run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	return err
}

// ListRuns returns the most recent runs first.
func (s *ExportRunStore) ListRuns(limit int) ([]domain.ExportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.Query(
		`SELECT id, source_type, source, output, strategy, columns_json,
		 rows_read, rows_written, status, error, started_at, finished_at
		 FROM export_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.ExportRun
	for rows.Next() {
		var r domain.ExportRun
		var cols, status string
		if err := rows.Scan(
			&r.ID, &r.SourceType, &r.Source, &r.Output, &r.Strategy, &cols,
			&r.RowsRead, &r.RowsWritten, &status, &r.Error,
			&r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		if err := json.Unmarshal([]byte(cols), &r.Columns); err != nil {
			return nil, fmt.Errorf("run %s: parse columns: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
