package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/google/renameio"
)

// countingWriter tracks how many bytes pass through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteFileAtomic writes an artifact through write and replaces path only once
// the content is complete and synced. Readers observe either the previous file
// or the new one, never a partial write. artifact labels the persistence metrics.
func WriteFileAtomic(path, artifact string, write func(w io.Writer) error) error {
	start := time.Now()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: failed to create directory %s: %w", dir, err)
	}

	pf, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("storage: failed to create temp file for %s: %w", path, err)
	}
	defer func() { _ = pf.Cleanup() }()

	cw := &countingWriter{w: pf}
	if err := write(cw); err != nil {
		return fmt.Errorf("storage: failed to write %s: %w", artifact, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("storage: failed to replace %s: %w", path, err)
	}

	metrics.PersistDurationSeconds.WithLabelValues(artifact).Observe(time.Since(start).Seconds())
	metrics.PersistBytes.WithLabelValues(artifact).Set(float64(cw.n))
	return nil
}
