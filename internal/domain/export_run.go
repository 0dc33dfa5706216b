package domain

import "time"

// RunStatus is the outcome of an export run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ExportRun is the history entry for one export.
type ExportRun struct {
	ID          string    `json:"id"`
	SourceType  string    `json:"sourceType"`
	Source      string    `json:"source"` // file path, URL, or query summary
	Output      string    `json:"output"`
	Strategy    string    `json:"strategy"`
	Columns     []string  `json:"columns"`
	RowsRead    int       `json:"rowsRead"`
	RowsWritten int       `json:"rowsWritten"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Duration returns how long the run took.
func (r *ExportRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExportRunStore persists export history.
type ExportRunStore interface {
	CreateRun(run *ExportRun) error
	ListRuns(limit int) ([]ExportRun, error)
}
