package pool

import (
	"bytes"
	"sync"

	"github.com/23skdu/irisgauge/internal/metrics"
)

// maxRetained caps the capacity of buffers kept for reuse so one oversized
// encoder output does not stay pinned.
const maxRetained = 1 << 20

// BytePool pools bytes.Buffer instances used to capture extractor output.
type BytePool struct {
	pool sync.Pool
}

// NewBytePool creates a new buffer pool.
func NewBytePool() *BytePool {
	return &BytePool{
		pool: sync.Pool{
			New: func() any {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get retrieves a buffer from the pool.
// The buffer is guaranteed to be empty (Reset called).
func (p *BytePool) Get() *bytes.Buffer {
	metrics.BufferPoolOperations.WithLabelValues("get").Inc()
	return p.pool.Get().(*bytes.Buffer)
}

// Put returns a buffer to the pool after resetting it. Oversized buffers
// are dropped.
func (p *BytePool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxRetained {
		metrics.BufferPoolOperations.WithLabelValues("drop").Inc()
		return
	}
	metrics.BufferPoolOperations.WithLabelValues("put").Inc()
	buf.Reset()
	p.pool.Put(buf)
}
