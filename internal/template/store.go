package template

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/23skdu/irisgauge/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mode selects how templates are acquired.
type Mode string

const (
	// ModeExtract runs the extractor over every sample of the source.
	ModeExtract Mode = "extract"
	// ModeReload reads a previously persisted template set.
	ModeReload Mode = "reload"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeExtract:
		return ModeExtract, nil
	case ModeReload:
		return ModeReload, nil
	default:
		return "", fmt.Errorf("template: unknown mode %q", s)
	}
}

// LoadOptions configures Load.
type LoadOptions struct {
	Mode      Mode
	Source    Source
	Extractor Extractor
	// CachePath is the persisted template set: read in ModeReload, written
	// after a successful ModeExtract. Empty disables persistence.
	CachePath string
	// Workers bounds concurrent extractions; <= 0 uses GOMAXPROCS.
	Workers int
	Logger  zerolog.Logger
}

// Store is the ordered, immutable enrollment set.
type Store struct {
	records []Record
	skipped int
}

// NewStore wraps records without copying them.
func NewStore(records []Record) *Store {
	return &Store{records: records}
}

// Records returns the enrollment set in index order.
func (s *Store) Records() []Record { return s.records }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Skipped returns how many samples were dropped because extraction failed.
func (s *Store) Skipped() int { return s.skipped }

// Fingerprint identifies the dataset snapshot.
func (s *Store) Fingerprint() string { return Fingerprint(s.records) }

// Load acquires the enrollment set according to opts.Mode.
func Load(ctx context.Context, opts LoadOptions) (*Store, error) {
	var (
		st  *Store
		err error
	)
	switch opts.Mode {
	case ModeReload:
		st, err = reload(opts)
	case ModeExtract:
		st, err = extract(ctx, opts)
	default:
		return nil, ierrors.NewConfigurationError("load_templates", fmt.Sprintf("unknown mode %q", opts.Mode))
	}
	if err != nil {
		return nil, err
	}
	metrics.TemplatesLoaded.Set(float64(st.Len()))
	return st, nil
}

func reload(opts LoadOptions) (*Store, error) {
	if opts.CachePath == "" {
		return nil, ierrors.NewConfigurationError("load_templates", "reload mode requires a cache path")
	}
	records, err := ReadFile(opts.CachePath)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info().
		Str("path", opts.CachePath).
		Int("records", len(records)).
		Msg("Reloaded template set")
	return &Store{records: records}, nil
}

func extract(ctx context.Context, opts LoadOptions) (*Store, error) {
	if opts.Source == nil || opts.Extractor == nil {
		return nil, ierrors.NewConfigurationError("load_templates", "extract mode requires a source and an extractor")
	}
	samples, err := opts.Source.Samples(ctx)
	if err != nil {
		return nil, ierrors.WrapDatasetError(err, "load_templates", "failed to enumerate samples")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Each slot is written by exactly one task; order is restored by index.
	slots := make([]*Template, len(samples))
	var done atomic.Int64
	start := time.Now()
	logger := opts.Logger.With().Str("component", "template_store").Logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := samples[i]
			t, err := opts.Extractor.Extract(gctx, s.Ref)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, ierrors.ErrExtractorUnavailable):
				metrics.ExtractionTotal.WithLabelValues("error").Inc()
				return ierrors.WrapExtractionError(err, "extract", "extraction aborted").
					WithContext("ref", s.Ref)
			case err != nil:
				metrics.ExtractionTotal.WithLabelValues("error").Inc()
				logger.Warn().
					Err(ierrors.WrapExtractionError(errors.Join(ierrors.ErrExtractionSkipped, err), "extract", "extractor returned an error")).
					Str("label", s.Label).
					Str("ref", s.Ref).
					Msg("Skipping sample")
			case t == nil:
				metrics.ExtractionTotal.WithLabelValues("skipped").Inc()
				logger.Debug().Str("label", s.Label).Str("ref", s.Ref).Msg("Skipping sample without iris code")
			default:
				if verr := t.Validate(); verr != nil {
					metrics.ExtractionTotal.WithLabelValues("error").Inc()
					logger.Warn().Err(verr).Str("ref", s.Ref).Msg("Skipping sample with malformed code")
					break
				}
				metrics.ExtractionTotal.WithLabelValues("ok").Inc()
				slots[i] = t
			}
			n := done.Add(1)
			if n%100 == 0 || int(n) == len(samples) {
				logger.Info().
					Int64("done", n).
					Int("total", len(samples)).
					Float64("percent", float64(n)/float64(len(samples))*100).
					Msg("Extraction progress")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(samples))
	for i, t := range slots {
		if t != nil {
			records = append(records, Record{Label: samples[i].Label, Template: *t})
		}
	}
	st := &Store{records: records, skipped: len(samples) - len(records)}

	logger.Info().
		Int("samples", len(samples)).
		Int("records", st.Len()).
		Int("skipped", st.skipped).
		Dur("elapsed", time.Since(start)).
		Msg("Template extraction complete")

	if opts.CachePath != "" {
		if err := WriteFile(opts.CachePath, records); err != nil {
			return nil, err
		}
		logger.Info().Str("path", opts.CachePath).Msg("Template set persisted")
	}
	return st, nil
}

// WriteFile persists records to path.
func WriteFile(path string, records []Record) error {
	rows := make([]storage.TemplateRow, len(records))
	for i, rec := range records {
		rows[i] = storage.TemplateRow{
			Index:   int32(i),
			Label:   rec.Label,
			Rows:    int32(rec.Template.Rows),
			Cols:    int32(rec.Template.Cols),
			Bits:    rec.Template.Bits,
			HasMask: rec.Template.Mask != nil,
			Mask:    rec.Template.Mask,
		}
	}
	if err := storage.WriteTemplates(path, rows); err != nil {
		return ierrors.WrapStorageError(err, "save_templates", "failed to persist template set").
			WithContext("path", path)
	}
	return nil
}

// ReadFile loads records persisted by WriteFile.
func ReadFile(path string) ([]Record, error) {
	rows, err := storage.ReadTemplates(path)
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "load_templates", "failed to read template set").
			WithContext("path", path)
	}
	records := make([]Record, len(rows))
	for i, row := range rows {
		t := Template{Rows: int(row.Rows), Cols: int(row.Cols), Bits: row.Bits}
		if t.Bits == nil {
			t.Bits = []uint64{}
		}
		if row.HasMask {
			t.Mask = row.Mask
			if t.Mask == nil {
				t.Mask = []uint64{}
			}
		}
		if err := t.Validate(); err != nil {
			return nil, ierrors.WrapStorageError(err, "load_templates", "persisted template is malformed").
				WithContext("path", path).
				WithContext("index", i)
		}
		records[i] = Record{Label: row.Label, Template: t}
	}
	return records, nil
}
