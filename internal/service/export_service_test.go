package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usageexport/internal/domain"
	"usageexport/internal/etl"
	_ "usageexport/internal/etl/sources"
	"usageexport/internal/service"
)

// ─────────────────────────────────────────────────────────────
// ExportService tests
// ─────────────────────────────────────────────────────────────

type memRunStore struct {
	mu   sync.Mutex
	runs []domain.ExportRun
	err  error
}

func (m *memRunStore) CreateRun(run *domain.ExportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRunStore) ListRuns(limit int) ([]domain.ExportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ExportRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func writeUsageFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "usage.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func newJob(input, output string) *etl.ExportJob {
	return &etl.ExportJob{
		SourceType: "json_file",
		SourceCfg:  etl.SourceConfig{"filePath": input},
		Output:     output,
		Columns:    []string{"date", "usage_hours"},
	}
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestExportService_RunExport_Success(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01","usage_hours":7.5},{"date":"2024-01-02"}]`)
	output := filepath.Join(dir, "out", "usage.csv")

	store := &memRunStore{}
	emitter := &service.MockEmitter{}
	svc := service.NewExportService(store, nil, emitter, quietLogger())

	res, err := svc.RunExport(context.Background(), newJob(input, output))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, res.Status)
	assert.Equal(t, 2, res.RowsWritten)
	assert.NotEmpty(t, res.JobID)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "date,usage_hours\n2024-01-01,7.5\n2024-01-02,\n", string(data))

	runs, err := svc.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.JobID, runs[0].ID)
	assert.Equal(t, input, runs[0].Source)
	assert.Equal(t, domain.RunSuccess, runs[0].Status)

	events := emitter.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, service.EventExportCompleted, events[0].Event)
}

func TestExportService_RunExport_EmptyInputFails(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[]`)
	output := filepath.Join(dir, "usage.csv")

	store := &memRunStore{}
	emitter := &service.MockEmitter{}
	svc := service.NewExportService(store, nil, emitter, quietLogger())

	res, err := svc.RunExport(context.Background(), newJob(input, output))
	require.Error(t, err)
	assert.True(t, errors.Is(err, etl.ErrNoRecords))
	assert.Equal(t, domain.RunError, res.Status)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no file should be written")

	require.Len(t, store.runs, 1)
	assert.Equal(t, domain.RunError, store.runs[0].Status)
	assert.Contains(t, store.runs[0].Error, "no data to export")

	events := emitter.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, service.EventExportFailed, events[0].Event)
}

func TestExportService_RunExport_StoreErrorDoesNotFailRun(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01"}]`)

	store := &memRunStore{err: errors.New("disk full")}
	svc := service.NewExportService(store, nil, nil, quietLogger())

	_, err := svc.RunExport(context.Background(), newJob(input, filepath.Join(dir, "u.csv")))
	require.NoError(t, err)
}

type blockingDest struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDest) Write(ctx context.Context, target string, columns []string, records []etl.Record) (*etl.WriteResult, error) {
	close(d.entered)
	<-d.release
	return &etl.WriteResult{Path: target, Rows: len(records), Strategy: etl.StrategyStream}, nil
}

func TestExportService_RunExport_RejectsConcurrentSameOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01"}]`)
	output := filepath.Join(dir, "u.csv")

	dest := &blockingDest{entered: make(chan struct{}), release: make(chan struct{})}
	svc := service.NewExportService(nil, dest, nil, quietLogger())

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.RunExport(context.Background(), newJob(input, output))
		errCh <- err
	}()
	<-dest.entered

	_, err := svc.RunExport(context.Background(), newJob(input, output))
	assert.True(t, errors.Is(err, service.ErrExportRunning))

	close(dest.release)
	require.NoError(t, <-errCh)
}

func TestExportService_ListRuns_HistoryDisabled(t *testing.T) {
	svc := service.NewExportService(nil, nil, nil, quietLogger())
	_, err := svc.ListRuns(10)
	assert.True(t, errors.Is(err, service.ErrHistoryDisabled))
}

func TestExportService_ListSources(t *testing.T) {
	svc := service.NewExportService(nil, nil, nil, quietLogger())
	var types []string
	for _, s := range svc.ListSources() {
		types = append(types, s.Type)
	}
	assert.Contains(t, types, "json_file")
	assert.Contains(t, types, "http")
	assert.Contains(t, types, "database")
}

func TestExportService_Preview(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"a"},{"date":"b"},{"date":"c"}]`)

	svc := service.NewExportService(nil, nil, nil, quietLogger())
	res, err := svc.Preview(context.Background(), "json_file", etl.SourceConfig{"filePath": input}, 2)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.True(t, res.Schema.Has("date"))
}

func TestExportService_Metrics(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01"},{"date":"2024-01-02"}]`)

	m := service.NewMetrics()
	svc := service.NewExportService(nil, nil, nil, quietLogger())
	svc.UseMetrics(m)

	_, err := svc.RunExport(context.Background(), newJob(input, filepath.Join(dir, "u.csv")))
	require.NoError(t, err)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	rows := byName["usage_export_rows_total"]
	require.NotNil(t, rows)
	assert.Equal(t, 2.0, rows.GetMetric()[0].GetCounter().GetValue())

	runs := byName["usage_export_runs_total"]
	require.NotNil(t, runs)
	require.Len(t, runs.GetMetric(), 1)
	labels := map[string]string{}
	for _, lp := range runs.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, "success", labels["status"])
	assert.Equal(t, etl.StrategyFrame, labels["strategy"])
}

// ─── Watch tests ─────────────────────────────────────────────

func TestExportService_Watch_NothingToWatch(t *testing.T) {
	svc := service.NewExportService(nil, nil, nil, quietLogger())
	job := &etl.ExportJob{SourceType: "http", SourceCfg: etl.SourceConfig{"url": "http://x"}, Output: "u.csv"}
	err := svc.Watch(context.Background(), job, "")
	require.Error(t, err)
}

func TestExportService_Watch_InvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01"}]`)
	svc := service.NewExportService(nil, nil, nil, quietLogger())

	err := svc.Watch(context.Background(), newJob(input, filepath.Join(dir, "u.csv")), "not a cron")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestExportService_Watch_RerunsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01"}]`)
	output := filepath.Join(dir, "u.csv")

	emitter := &service.MockEmitter{}
	svc := service.NewExportService(nil, nil, emitter, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, newJob(input, output), "") }()

	require.Eventually(t, func() bool { return len(emitter.Snapshot()) == 1 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(input, []byte(`[{"date":"2024-01-01"},{"date":"2024-01-02"}]`), 0644))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(output)
		return err == nil && strings.Count(string(data), "\n") == 3
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestExportService_Watch_RerunsOnSchedule(t *testing.T) {
	dir := t.TempDir()
	input := writeUsageFile(t, dir, `[{"date":"2024-01-01"}]`)
	output := filepath.Join(dir, "u.csv")

	emitter := &service.MockEmitter{}
	svc := service.NewExportService(nil, nil, emitter, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, newJob(input, output), "@every 100ms") }()

	// startup run plus at least two scheduled runs
	require.Eventually(t, func() bool {
		return len(emitter.Named(service.EventExportCompleted)) >= 3
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	settled := len(emitter.Snapshot())
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, settled, len(emitter.Snapshot()), "no runs start once Watch has returned")
}

func TestInputSource(t *testing.T) {
	typ, cfg := service.InputSource("data/usage.json", "")
	assert.Equal(t, "json_file", typ)
	assert.Equal(t, "data/usage.json", cfg.String("filePath"))
	assert.NotContains(t, cfg, "dataPath")

	typ, cfg = service.InputSource("HTTPS://example.com/usage", "data.items")
	assert.Equal(t, "http", typ)
	assert.Equal(t, "HTTPS://example.com/usage", cfg.String("url"))
	assert.Equal(t, "data.items", cfg.String("dataPath"))
}
