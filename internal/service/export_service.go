package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"usageexport/internal/domain"
	"usageexport/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Export Service: runs and records export jobs
// ─────────────────────────────────────────────────────────────

var (
	// ErrExportRunning is returned when an export to the same output is in flight.
	ErrExportRunning = errors.New("export already running")
	// ErrHistoryDisabled is returned by ListRuns when no run store is configured.
	ErrHistoryDisabled = errors.New("export history is disabled")
)

const (
	runTimeout     = 5 * time.Minute
	previewTimeout = 30 * time.Second
	watchDebounce  = 500 * time.Millisecond
)

// ExportService runs export jobs and keeps their history.
// The store and emitter are optional.
type ExportService struct {
	store       domain.ExportRunStore
	dest        etl.Destination
	emitter     EventEmitter
	metrics     *Metrics
	logger      logrus.FieldLogger
	runningJobs outputGuard

	// timeout bounds a single run.
	timeout time.Duration
}

// NewExportService creates an ExportService ready for use. A nil dest
// writes CSV files in auto strategy mode.
func NewExportService(
	store domain.ExportRunStore,
	dest etl.Destination,
	emitter EventEmitter,
	logger logrus.FieldLogger,
) *ExportService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dest == nil {
		dest = etl.NewCSVFileWriter(etl.ModeAuto, logger)
	}
	return &ExportService{
		store:   store,
		dest:    dest,
		emitter: emitter,
		logger:  logger,
		timeout: runTimeout,
	}
}

// UseMetrics makes the service record every run in m.
func (s *ExportService) UseMetrics(m *Metrics) {
	s.metrics = m
}

// ── Run ────────────────────────────────────────────────────

// RunExport executes a single export synchronously, records it in the
// history store and emits export:completed or export:failed.
// Two exports to the same output never run at once.
func (s *ExportService) RunExport(ctx context.Context, job *etl.ExportJob) (*etl.ExportResult, error) {
	j := *job
	if j.ID == "" {
		j.ID = uuid.New().String()
	}

	key := j.Output
	if abs, err := filepath.Abs(j.Output); err == nil {
		key = abs
	}
	if !s.runningJobs.TryLock(key) {
		return nil, fmt.Errorf("%w: %s", ErrExportRunning, j.Output)
	}
	defer s.runningJobs.Unlock(key)

	engine := &etl.Engine{Dest: s.dest, Logger: s.logger}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, runErr := engine.RunExport(runCtx, &j)

	s.record(&j, result, start)
	s.metrics.Observe(result)

	if s.emitter != nil {
		event := EventExportCompleted
		if runErr != nil {
			event = EventExportFailed
		}
		s.emitter.Emit(ctx, event, result)
	}

	return result, runErr
}

func (s *ExportService) record(job *etl.ExportJob, result *etl.ExportResult, start time.Time) {
	if s.store == nil {
		return
	}
	run := &domain.ExportRun{
		ID:          job.ID,
		SourceType:  job.SourceType,
		Source:      describeSource(job),
		Output:      job.Output,
		Strategy:    result.Strategy,
		Columns:     result.Columns,
		RowsRead:    result.RowsRead,
		RowsWritten: result.RowsWritten,
		Status:      result.Status,
		Error:       result.Error,
		StartedAt:   start,
		FinishedAt:  start.Add(result.Duration),
	}
	if err := s.store.CreateRun(run); err != nil {
		s.logger.WithError(err).WithField("job", job.ID).Warn("failed to record export run")
	}
}

// describeSource picks the most telling setting of a source config.
func describeSource(job *etl.ExportJob) string {
	for _, key := range []string{"filePath", "url", "driver"} {
		if v := job.SourceCfg.String(key); v != "" {
			return v
		}
	}
	return job.SourceType
}

// ListSources returns the available source descriptors.
func (s *ExportService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRuns returns the most recent export runs, newest first.
func (s *ExportService) ListRuns(limit int) ([]domain.ExportRun, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.ListRuns(limit)
}

// ── Preview ────────────────────────────────────────────────

// PreviewResult is the response from Preview.
type PreviewResult struct {
	Schema  *etl.Schema  `json:"schema"`
	Records []etl.Record `json:"records"`
}

// Preview reads up to maxRows records from a source without exporting them.
func (s *ExportService) Preview(ctx context.Context, sourceType string, cfg etl.SourceConfig, maxRows int) (*PreviewResult, error) {
	if maxRows <= 0 {
		maxRows = 10
	}
	engine := &etl.Engine{Dest: s.dest, Logger: s.logger}

	previewCtx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	records, schema, err := engine.Preview(previewCtx, sourceType, cfg, maxRows)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Schema: schema, Records: records}, nil
}

// ── Watch (cron + file_watch) ─────────────────────────────

// Watch runs job once, then again whenever its input file changes and on
// every tick of the cron schedule. An empty schedule disables the cron
// trigger; only json_file sources have a file to watch. Watch blocks until
// ctx is done and waits for the run in flight before returning.
func (s *ExportService) Watch(ctx context.Context, job *etl.ExportJob, schedule string) error {
	watchPath := ""
	if job.SourceType == "json_file" {
		watchPath = job.SourceCfg.String("filePath")
	}
	if schedule == "" && watchPath == "" {
		return fmt.Errorf("nothing to watch: no schedule and no input file")
	}

	log := s.logger.WithField("output", job.Output)
	trigger := func(reason string) {
		if ctx.Err() != nil {
			return
		}
		log.Infof("export triggered by %s", reason)
		if _, err := s.RunExport(ctx, job); err != nil {
			if errors.Is(err, ErrExportRunning) {
				log.Info("previous export still running, skipping")
				return
			}
			log.WithError(err).Error("export failed")
		}
	}

	// stops run in order once ctx is done, before waiting on running exports.
	var stops []func()
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()

	// ── Cron ──
	if schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(schedule, func() { trigger("schedule") }); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		c.Start()
		stops = append(stops, func() { <-c.Stop().Done() })
		log.Infof("scheduled export %q", schedule)
	}

	// ── File watcher ──
	if watchPath != "" {
		absPath, err := filepath.Abs(watchPath)
		if err != nil {
			return fmt.Errorf("bad path %q: %w", watchPath, err)
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Add(filepath.Dir(absPath)); err != nil {
			watcher.Close()
			return fmt.Errorf("watch dir %q: %w", filepath.Dir(absPath), err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.watchFile(ctx, watcher, absPath, func() { trigger("file change") })
		}()
		stops = append(stops, func() {
			<-done
			watcher.Close()
		})
		log.Infof("watching %s", absPath)
	}

	trigger("startup")

	<-ctx.Done()
	for _, stop := range stops {
		stop()
	}
	stops = nil

	if n := s.runningJobs.Len(); n > 0 {
		log.Infof("waiting for %d running export(s)", n)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.WaitRunning(waitCtx)
	return nil
}

// watchFile calls run once per burst of writes to path, debounced.
func (s *ExportService) watchFile(ctx context.Context, watcher *fsnotify.Watcher, path string, run func()) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); abs != path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, run)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("watcher error")
		}
	}
}

// WaitRunning blocks until all running exports finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *ExportService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// InputSource maps a CLI-style input to a source: http(s) URLs read through
// the http source, anything else is a JSON file path.
func InputSource(input, dataPath string) (string, etl.SourceConfig) {
	cfg := etl.SourceConfig{}
	if dataPath != "" {
		cfg["dataPath"] = dataPath
	}
	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		cfg["url"] = input
		return "http", cfg
	}
	cfg["filePath"] = input
	return "json_file", cfg
}
