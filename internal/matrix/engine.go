package matrix

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/match"
	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/23skdu/irisgauge/internal/template"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc observes pairwise progress. It is called from worker
// goroutines and must not block.
type ProgressFunc func(done, total int64)

// Engine scores every unordered pair of an enrollment set on a bounded pool.
// An Engine runs one Compute at a time; concurrent calls share the progress
// counters. Use one Engine per concurrent computation.
type Engine struct {
	scorer   match.Scorer
	workers  int
	logger   zerolog.Logger
	progress ProgressFunc

	done  atomic.Int64
	total atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of concurrent row tasks. Values <= 0 use
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine creates an engine around a scorer.
func NewEngine(scorer match.Scorer, opts ...Option) *Engine {
	e := &Engine{scorer: scorer, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	e.logger = e.logger.With().Str("component", "pairwise_engine").Logger()
	return e
}

// Scorer returns the metric the engine scores pairs with.
func (e *Engine) Scorer() match.Scorer { return e.scorer }

// Progress returns the pairs completed and the total of the current or last
// Compute call.
func (e *Engine) Progress() (done, total int64) {
	return e.done.Load(), e.total.Load()
}

type pairFailure struct {
	i, j int
	err  *ierrors.TaskError
}

// Compute scores all n(n-1)/2 pairs. One task handles one row i and writes
// only cells (i, j>i), so no two tasks share a cell. Any failed pair fails
// the whole computation with a PartialError after the remaining work
// finishes; a partial matrix is never returned.
func (e *Engine) Compute(ctx context.Context, records []template.Record) (*Matrix, error) {
	n := len(records)
	m := newMatrix(n, template.Fingerprint(records), e.scorer.Name())
	total := int64(m.NumPairs())
	e.done.Store(0)
	e.total.Store(total)
	if total == 0 {
		return m, nil
	}

	start := time.Now()
	e.logger.Info().
		Int("records", n).
		Int64("pairs", total).
		Int("workers", e.workers).
		Msg("Computing pairwise distances")

	var (
		failMu   sync.Mutex
		failures []pairFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 0; i < n-1; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			base := m.offset(i, i+1)
			for j := i + 1; j < n; j++ {
				score, err := e.score(records[i], records[j])
				if err != nil {
					te := ierrors.NewTaskError("pairwise", fmt.Sprintf("pair(%d,%d)", i, j),
						fmt.Errorf("labels %q/%q: %w", records[i].Label, records[j].Label, err))
					failMu.Lock()
					failures = append(failures, pairFailure{i: i, j: j, err: te})
					failMu.Unlock()
					continue
				}
				m.cells[base+j-i-1] = Cell{
					Genuine: records[i].Label == records[j].Label,
					Score:   score,
				}
			}
			rowPairs := int64(n - 1 - i)
			metrics.PairsComputedTotal.Add(float64(rowPairs))
			done := e.done.Add(rowPairs)
			if e.progress != nil {
				e.progress(done, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The loop can stop early on cancellation without any task reporting it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(failures) > 0 {
		sort.Slice(failures, func(a, b int) bool {
			if failures[a].i != failures[b].i {
				return failures[a].i < failures[b].i
			}
			return failures[a].j < failures[b].j
		})
		tasks := make([]*ierrors.TaskError, len(failures))
		for k, f := range failures {
			tasks[k] = f.err
		}
		metrics.TaskFailuresTotal.WithLabelValues("pairwise").Add(float64(len(tasks)))
		pe := ierrors.NewPartialError("pairwise", int(total), tasks)
		e.logger.Error().Err(pe).Int("failed", len(tasks)).Msg("Pairwise computation incomplete")
		return nil, ierrors.WrapComputationError(pe, "compute_matrix", "pairwise computation incomplete")
	}

	elapsed := time.Since(start)
	metrics.PhaseDurationSeconds.WithLabelValues("pairwise").Observe(elapsed.Seconds())
	e.logger.Info().
		Int64("pairs", total).
		Dur("elapsed", elapsed).
		Float64("pairs_per_sec", float64(total)/elapsed.Seconds()).
		Msg("Pairwise distances computed")
	return m, nil
}

// score isolates scorer faults, including panics, to the pair being scored.
func (e *Engine) score(a, b template.Record) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.scorer.Score(a.Template, b.Template)
}
