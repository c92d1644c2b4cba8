// Package breaker stops calling an external extractor that keeps failing.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/23skdu/irisgauge/internal/template"
)

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings configures the CircuitBreaker
type Settings struct {
	Name string
	// MaxConsecutiveFailures trips the breaker; 0 uses 5.
	MaxConsecutiveFailures uint32
	// Cooldown is how long the breaker stays open before one probe call is
	// let through; 0 uses 30s.
	Cooldown      time.Duration
	OnStateChange func(name string, from, to State)
}

// Counts holds the results seen in the current state
type Counts struct {
	Calls               uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// CircuitBreaker guards calls to a flaky dependency. Extraction errors
// count as failures; a sample without an iris does not.
type CircuitBreaker struct {
	name          string
	maxFailures   uint32
	cooldown      time.Duration
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a new CircuitBreaker
func NewCircuitBreaker(st Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          st.Name,
		maxFailures:   st.MaxConsecutiveFailures,
		cooldown:      st.Cooldown,
		onStateChange: st.OnStateChange,
		now:           time.Now,
	}
	if cb.maxFailures == 0 {
		cb.maxFailures = 5
	}
	if cb.cooldown == 0 {
		cb.cooldown = 30 * time.Second
	}
	return cb
}

// State returns the current state, moving an expired open breaker to
// half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Counts returns a snapshot of the counters of the current state.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.cooldown)) {
		cb.setState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.counts = Counts{}
	cb.probing = false
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	metrics.BreakerTransitionsTotal.WithLabelValues(cb.name, to.String()).Inc()
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// acquire reports whether a call may proceed. In half-open state only a
// single probe is admitted at a time.
func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	cb.counts.Calls++
	return true
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !failed {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}
	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.maxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

// Extractor returns e guarded by cb. While the breaker is open, calls fail
// with an error wrapping ErrExtractorUnavailable without reaching e.
// Cancellation is not counted as a failure.
func (cb *CircuitBreaker) Extractor(e template.Extractor) template.Extractor {
	return template.ExtractorFunc(func(ctx context.Context, ref string) (*template.Template, error) {
		if !cb.acquire() {
			return nil, fmt.Errorf("%w: breaker %s is open", ierrors.ErrExtractorUnavailable, cb.name)
		}
		t, err := e.Extract(ctx, ref)
		cb.record(err != nil && ctx.Err() == nil)
		return t, err
	})
}
