package limiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/23skdu/irisgauge/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	// Disabled
	l := NewRateLimiter(Config{RPS: 0})
	assert.False(t, l.Enabled())

	// Enabled
	l = NewRateLimiter(Config{RPS: 10, Burst: 20})
	assert.True(t, l.Enabled())
	assert.NotNil(t, l.limiter)
	assert.Equal(t, float64(10), float64(l.limiter.Limit()))
	assert.Equal(t, 20, l.limiter.Burst())

	// Burst defaults to RPS
	l = NewRateLimiter(Config{RPS: 5})
	assert.Equal(t, 5, l.limiter.Burst())
}

func countingExtractor(calls *atomic.Int64) template.Extractor {
	return template.ExtractorFunc(func(context.Context, string) (*template.Template, error) {
		calls.Add(1)
		tpl := template.New(1, 8)
		return &tpl, nil
	})
}

func TestRateLimiter_ExtractorWaitsForToken(t *testing.T) {
	var calls atomic.Int64
	e := NewRateLimiter(Config{RPS: 1, Burst: 1}).Extractor(countingExtractor(&calls))

	// 1st call consumes the burst
	_, err := e.Extract(context.Background(), "a")
	require.NoError(t, err)

	// 2nd call would wait about a second, longer than the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = e.Extract(ctx, "b")
	assert.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "throttled call never reaches the extractor")
}

func TestRateLimiter_Disabled(t *testing.T) {
	var calls atomic.Int64
	inner := countingExtractor(&calls)
	l := NewRateLimiter(Config{RPS: 0})
	e := l.Extractor(inner)

	for i := 0; i < 50; i++ {
		_, err := e.Extract(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(50), calls.Load())
	assert.NoError(t, l.Wait(context.Background()))
}
