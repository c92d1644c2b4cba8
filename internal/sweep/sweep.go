// Package sweep evaluates a distance matrix over a range of decision
// thresholds and selects the operating points.
package sweep

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/eval"
	"github.com/23skdu/irisgauge/internal/matrix"
	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Selection is a chosen operating point. Found is false when no point had
// the rate defined.
type Selection struct {
	Found     bool
	Threshold float64
	FAR       eval.Rate
	FRR       eval.Rate
}

func (s Selection) String() string {
	if !s.Found {
		return "not found"
	}
	return fmt.Sprintf("threshold=%v far=%s frr=%s", s.Threshold, s.FAR, s.FRR)
}

// Report is the result of one sweep. Points are ordered by threshold.
// A Partial report misses the points of failed tasks and carries no
// selections.
type Report struct {
	RunID       string
	Records     int
	Genuine     int
	Impostor    int
	Fingerprint string
	Points      []eval.Outcome
	// BestFAR is the point with the lowest defined FAR. Among points with
	// equal FAR the lower FRR wins (undefined FRR ranks last), then the
	// lowest threshold. With first-occurrence alone a threshold that rejects
	// everything would always win the FAR tie at zero.
	BestFAR Selection
	// BestFRR mirrors BestFAR: lowest defined FRR, ties to the lower FAR,
	// then the lowest threshold.
	BestFRR Selection
	// EER is the point minimizing |FAR - FRR| among points with both rates
	// defined, ties to the lowest threshold.
	EER     Selection
	Partial bool
}

// Controller runs sweeps on a bounded pool.
type Controller struct {
	workers int
	logger  zerolog.Logger

	evaluate func(*matrix.Matrix, float64) eval.Outcome
}

// Option configures a Controller.
type Option func(*Controller)

// WithWorkers bounds the number of concurrent evaluations. Values <= 0 use
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *Controller) { c.workers = n }
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a sweep controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{logger: zerolog.Nop(), evaluate: eval.Evaluate}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers <= 0 {
		c.workers = runtime.GOMAXPROCS(0)
	}
	c.logger = c.logger.With().Str("component", "sweep").Logger()
	return c
}

type result struct {
	outcome eval.Outcome
	err     *ierrors.TaskError
}

// Sweep evaluates m at every threshold of r. The matrix is only read.
// Completed evaluations flow through a channel to a single collector.
// When any evaluation faults the partial report is returned together with a
// PartialError. A cancelled context yields no report.
func (c *Controller) Sweep(ctx context.Context, m *matrix.Matrix, r Range) (*Report, error) {
	if m == nil {
		return nil, ierrors.NewValidationError("sweep", "no distance matrix")
	}
	thresholds, err := r.Thresholds()
	if err != nil {
		return nil, err
	}
	if len(thresholds) == 0 {
		return nil, ierrors.NewValidationError("sweep", "threshold range is empty")
	}

	start := time.Now()
	genuine, impostor := m.ClassCounts()
	rep := &Report{
		RunID:       uuid.NewString(),
		Records:     m.Len(),
		Genuine:     genuine,
		Impostor:    impostor,
		Fingerprint: m.Fingerprint(),
	}
	logger := c.logger.With().Str("run_id", rep.RunID).Logger()
	logger.Info().
		Int("thresholds", len(thresholds)).
		Str("range", r.String()).
		Int("genuine_pairs", genuine).
		Int("impostor_pairs", impostor).
		Int("workers", c.workers).
		Msg("Starting threshold sweep")
	if impostor == 0 {
		logger.Warn().Err(ierrors.ErrEmptyClass).Msg("No impostor pairs, FAR is undefined at every threshold")
	}
	if genuine == 0 {
		logger.Warn().Err(ierrors.ErrEmptyClass).Msg("No genuine pairs, FRR is undefined at every threshold")
	}

	results := make(chan result, c.workers)
	collected := make(chan []result, 1)
	go func() {
		var out []result
		for res := range results {
			out = append(out, res)
		}
		collected <- out
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, t := range thresholds {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results <- c.evaluateOne(m, t)
			return nil
		})
	}
	werr := g.Wait()
	close(results)
	out := <-collected
	if werr != nil {
		return nil, werr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed []*ierrors.TaskError
	var failedAt []float64
	for _, res := range out {
		if res.err != nil {
			failed = append(failed, res.err)
			failedAt = append(failedAt, res.outcome.Threshold)
			continue
		}
		rep.Points = append(rep.Points, res.outcome)
	}
	sort.Slice(rep.Points, func(a, b int) bool { return rep.Points[a].Threshold < rep.Points[b].Threshold })

	for _, p := range rep.Points {
		if !p.FAR().IsDefined() {
			metrics.UndefinedRatesTotal.WithLabelValues("far").Inc()
		}
		if !p.FRR().IsDefined() {
			metrics.UndefinedRatesTotal.WithLabelValues("frr").Inc()
		}
		logger.Debug().
			Float64("threshold", p.Threshold).
			Stringer("far", p.FAR()).
			Stringer("frr", p.FRR()).
			Msg("Threshold evaluated")
	}

	elapsed := time.Since(start)
	metrics.PhaseDurationSeconds.WithLabelValues("sweep").Observe(elapsed.Seconds())

	if len(failed) > 0 {
		sort.Sort(byThreshold{failed, failedAt})
		rep.Partial = true
		metrics.TaskFailuresTotal.WithLabelValues("sweep").Add(float64(len(failed)))
		pe := ierrors.NewPartialError("sweep", len(thresholds), failed)
		logger.Error().Err(pe).Int("failed", len(failed)).Msg("Threshold sweep incomplete, selections withheld")
		return rep, ierrors.WrapComputationError(pe, "sweep", "threshold sweep incomplete")
	}

	rep.BestFAR = selectBest(rep.Points, eval.Outcome.FAR, eval.Outcome.FRR)
	rep.BestFRR = selectBest(rep.Points, eval.Outcome.FRR, eval.Outcome.FAR)
	rep.EER = selectEER(rep.Points)

	logger.Info().
		Dur("elapsed", elapsed).
		Stringer("best_far", rep.BestFAR).
		Stringer("best_frr", rep.BestFRR).
		Stringer("eer", rep.EER).
		Msg("Threshold sweep complete")
	return rep, nil
}

// evaluateOne isolates an evaluation fault to its threshold.
func (c *Controller) evaluateOne(m *matrix.Matrix, t float64) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{
				outcome: eval.Outcome{Threshold: t},
				err:     ierrors.NewTaskError("sweep", fmt.Sprintf("threshold=%f", t), fmt.Errorf("panic: %v", r)),
			}
		}
	}()
	o := c.evaluate(m, t)
	o.Threshold = t
	metrics.ThresholdsEvaluatedTotal.Inc()
	return result{outcome: o}
}

type byThreshold struct {
	errs []*ierrors.TaskError
	at   []float64
}

func (b byThreshold) Len() int           { return len(b.errs) }
func (b byThreshold) Less(i, j int) bool { return b.at[i] < b.at[j] }
func (b byThreshold) Swap(i, j int) {
	b.errs[i], b.errs[j] = b.errs[j], b.errs[i]
	b.at[i], b.at[j] = b.at[j], b.at[i]
}

// rateOr returns the value of r, or +Inf when undefined, so undefined
// companions lose ties.
func rateOr(r eval.Rate) float64 {
	if v, ok := r.Value(); ok {
		return v
	}
	return math.Inf(1)
}

func selection(p eval.Outcome) Selection {
	return Selection{Found: true, Threshold: p.Threshold, FAR: p.FAR(), FRR: p.FRR()}
}

// selectBest minimizes target over points where it is defined. Ties go to
// the lower companion rate, then to the lowest threshold.
func selectBest(points []eval.Outcome, target, companion func(eval.Outcome) eval.Rate) Selection {
	var best Selection
	var bestV, bestC float64
	for _, p := range points {
		v, ok := target(p).Value()
		if !ok {
			continue
		}
		cv := rateOr(companion(p))
		if !best.Found || v < bestV || (v == bestV && cv < bestC) {
			best, bestV, bestC = selection(p), v, cv
		}
	}
	return best
}

// selectEER picks the point where FAR and FRR are closest. Both rates must
// be defined.
func selectEER(points []eval.Outcome) Selection {
	var best Selection
	bestGap := math.Inf(1)
	for _, p := range points {
		far, ok1 := p.FAR().Value()
		frr, ok2 := p.FRR().Value()
		if !ok1 || !ok2 {
			continue
		}
		if gap := math.Abs(far - frr); !best.Found || gap < bestGap {
			best, bestGap = selection(p), gap
		}
	}
	return best
}
