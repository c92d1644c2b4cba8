// Package limiter throttles external extractor invocations with a token
// bucket.
package limiter

import (
	"context"
	"time"

	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/23skdu/irisgauge/internal/template"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	RPS   int // 0 means disabled
	Burst int // 0 means use RPS
}

// RateLimiter wraps the token bucket limiter
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.RPS <= 0 {
		return &RateLimiter{enabled: false}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RPS
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		enabled: true,
	}
}

// Enabled reports whether calls are throttled.
func (l *RateLimiter) Enabled() bool { return l.enabled }

// Wait blocks until a token is available or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		metrics.ExtractorThrottleTotal.WithLabelValues("rejected").Inc()
		return err
	}
	if time.Since(start) > time.Millisecond {
		metrics.ExtractorThrottleTotal.WithLabelValues("delayed").Inc()
	} else {
		metrics.ExtractorThrottleTotal.WithLabelValues("immediate").Inc()
	}
	return nil
}

// Extractor returns e throttled by l. A disabled limiter returns e unchanged.
func (l *RateLimiter) Extractor(e template.Extractor) template.Extractor {
	if !l.enabled || e == nil {
		return e
	}
	return template.ExtractorFunc(func(ctx context.Context, ref string) (*template.Template, error) {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
		return e.Extract(ctx, ref)
	})
}
