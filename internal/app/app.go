package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"usageexport/internal/config"
	"usageexport/internal/domain"
	"usageexport/internal/etl"
	_ "usageexport/internal/etl/sources"
	"usageexport/internal/service"
	"usageexport/internal/storage"
)

// App wires configuration, storage and services for one CLI invocation.
type App struct {
	cfg     *config.Cfg
	logger  *logrus.Logger
	db      *storage.DB
	export  *service.ExportService
	metrics *service.Metrics
}

// New opens the history store (when enabled) and builds the export service.
func New(cfg *config.Cfg, logger *logrus.Logger) (*App, error) {
	mode, err := etl.ParseStrategyMode(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, metrics: service.NewMetrics()}

	var store domain.ExportRunStore
	if cfg.History.Enabled && cfg.History.Path != "" {
		db, err := storage.New(cfg.History.Path)
		if err != nil {
			logger.WithError(err).WithField("path", cfg.History.Path).Warn("history unavailable, runs will not be recorded")
		} else {
			a.db = db
			store = storage.NewExportRunStore(db)
		}
	}

	dest := &etl.CSVFileWriter{
		Mode: mode,
		Frame: &etl.FrameStrategy{
			MaxCells:       cfg.Frame.MaxCells,
			MemoryFraction: cfg.Frame.MemoryFraction,
		},
		Logger: logger,
	}
	a.export = service.NewExportService(store, dest, &service.LogEmitter{Logger: logger}, logger)
	a.export.UseMetrics(a.metrics)
	return a, nil
}

// Close releases the history store.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Job builds the export job for input. An empty input falls back to the
// source named in the config.
func (a *App) Job(input, dataPath string) (*etl.ExportJob, error) {
	job := &etl.ExportJob{
		Transforms: a.cfg.Transforms,
		Output:     a.cfg.Output,
		Columns:    a.cfg.Columns,
	}
	switch {
	case input != "":
		job.SourceType, job.SourceCfg = service.InputSource(input, dataPath)
	case a.cfg.Source.Type != "":
		job.SourceType = a.cfg.Source.Type
		job.SourceCfg = etl.SourceConfig(a.cfg.Source.Config)
		if dataPath != "" {
			if job.SourceCfg == nil {
				job.SourceCfg = etl.SourceConfig{}
			}
			job.SourceCfg["dataPath"] = dataPath
		}
	default:
		return nil, fmt.Errorf("--input is required (or set source.type in the config)")
	}
	if job.Output == "" {
		return nil, fmt.Errorf("--output is required")
	}
	return job, nil
}

// serveMetrics exposes /metrics on the configured address in the background.
func (a *App) serveMetrics() {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	go func() {
		a.logger.Infof("serving metrics on %s/metrics", addr)
		if err := a.metrics.Serve(addr); err != nil {
			a.logger.WithError(err).Error("metrics server stopped")
		}
	}()
}
