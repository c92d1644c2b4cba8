// Package pipeline runs a full evaluation: acquire templates, compute or
// reuse the distance matrix, sweep thresholds and persist the report.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/match"
	"github.com/23skdu/irisgauge/internal/matrix"
	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/23skdu/irisgauge/internal/report"
	"github.com/23skdu/irisgauge/internal/sweep"
	"github.com/23skdu/irisgauge/internal/template"
	"github.com/rs/zerolog"
)

// Artifact file names.
const (
	TemplatesFile = "templates.parquet"
	MatrixFile    = "distance.arrow"
	ReportFile    = "report.parquet"
	CSVFile       = "report.csv"
)

const defaultProgressInterval = 5 * time.Second

// Config describes one run. RootPath is only read in extract mode.
type Config struct {
	RootPath   string
	OutputPath string
	CachePath  string

	Mode      template.Mode
	Source    template.Source // defaults to a DirSource over RootPath
	Extractor template.Extractor
	Scorer    match.Scorer // defaults to match.Hamming
	Range     sweep.Range
	Workers   int
	ExportCSV bool

	// ProgressInterval spaces pairwise progress logs; <= 0 uses 5s.
	ProgressInterval time.Duration
}

// Result is what a run produced.
type Result struct {
	Store        *template.Store
	Report       *sweep.Report
	MatrixCached bool
	ReportPath   string
	CSVPath      string
}

// Runner executes pipeline runs.
type Runner struct {
	cfg    Config
	logger zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg Config, logger zerolog.Logger) *Runner {
	if cfg.Source == nil {
		cfg.Source = template.DirSource{Root: cfg.RootPath}
	}
	if cfg.Scorer == nil {
		cfg.Scorer = match.Hamming{}
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	return &Runner{cfg: cfg, logger: logger.With().Str("component", "pipeline").Logger()}
}

// Run executes the phases in order. The sweep never starts before the
// matrix is complete. When the sweep is partial the report is still
// persisted, flagged as such, and the PartialError is returned with it.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.cfg.OutputPath == "" || r.cfg.CachePath == "" {
		return nil, ierrors.NewConfigurationError("run", "output and cache paths are required")
	}
	res := &Result{}

	start := time.Now()
	st, err := template.Load(ctx, template.LoadOptions{
		Mode:      r.cfg.Mode,
		Source:    r.cfg.Source,
		Extractor: r.cfg.Extractor,
		CachePath: filepath.Join(r.cfg.CachePath, TemplatesFile),
		Workers:   r.cfg.Workers,
		Logger:    r.logger,
	})
	if err != nil {
		return nil, err
	}
	metrics.PhaseDurationSeconds.WithLabelValues("load").Observe(time.Since(start).Seconds())
	res.Store = st
	r.logger.Info().
		Str("mode", string(r.cfg.Mode)).
		Int("records", st.Len()).
		Int("skipped", st.Skipped()).
		Str("fingerprint", st.Fingerprint()).
		Msg("Enrollment set ready")

	m, cached, err := r.distanceMatrix(ctx, st)
	if err != nil {
		return nil, err
	}
	res.MatrixCached = cached
	if err := checkMatrix(m, st, r.cfg.Scorer.Name()); err != nil {
		return nil, err
	}

	rep, sweepErr := sweep.NewController(
		sweep.WithWorkers(r.cfg.Workers),
		sweep.WithLogger(r.logger),
	).Sweep(ctx, m, r.cfg.Range)
	if rep == nil {
		return nil, sweepErr
	}
	res.Report = rep

	start = time.Now()
	res.ReportPath = filepath.Join(r.cfg.OutputPath, ReportFile)
	if err := report.Write(res.ReportPath, rep); err != nil {
		return nil, err
	}
	if r.cfg.ExportCSV {
		res.CSVPath = filepath.Join(r.cfg.OutputPath, CSVFile)
		if err := report.ExportCSV(ctx, res.ReportPath, res.CSVPath); err != nil {
			return nil, err
		}
	}
	metrics.PhaseDurationSeconds.WithLabelValues("report").Observe(time.Since(start).Seconds())
	r.logger.Info().
		Str("run_id", rep.RunID).
		Str("report", res.ReportPath).
		Str("csv", res.CSVPath).
		Bool("partial", rep.Partial).
		Msg("Sweep report persisted")

	return res, sweepErr
}

// checkMatrix fails with ErrDatasetMismatch unless m was computed from the
// records of st with the named scorer.
func checkMatrix(m *matrix.Matrix, st *template.Store, scorer string) error {
	var reason error
	switch {
	case m.Len() != st.Len():
		reason = fmt.Errorf("%w: matrix has %d records, enrollment set has %d", ierrors.ErrDatasetMismatch, m.Len(), st.Len())
	case m.Fingerprint() != st.Fingerprint():
		reason = fmt.Errorf("%w: matrix fingerprint %q, enrollment set %q", ierrors.ErrDatasetMismatch, m.Fingerprint(), st.Fingerprint())
	case m.Scorer() != scorer:
		reason = fmt.Errorf("%w: matrix scored with %q, run uses %q", ierrors.ErrDatasetMismatch, m.Scorer(), scorer)
	default:
		return nil
	}
	return ierrors.Wrap(reason, ierrors.ErrorTypeDataset, "run", "distance matrix does not belong to the enrollment set").
		WithContext("matrix_records", m.Len()).
		WithContext("records", st.Len())
}

// distanceMatrix reuses the persisted matrix for this snapshot or computes
// it while logging progress.
func (r *Runner) distanceMatrix(ctx context.Context, st *template.Store) (*matrix.Matrix, bool, error) {
	engine := matrix.NewEngine(r.cfg.Scorer,
		matrix.WithWorkers(r.cfg.Workers),
		matrix.WithLogger(r.logger),
	)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				finished, total := engine.Progress()
				if total == 0 {
					continue
				}
				r.logger.Info().
					Int64("done", finished).
					Int64("total", total).
					Float64("percent", 100*float64(finished)/float64(total)).
					Msg("Pairwise progress")
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	cache := matrix.Cache{Path: filepath.Join(r.cfg.CachePath, MatrixFile), Logger: r.logger}
	return cache.LoadOrCompute(ctx, engine, st.Records())
}
