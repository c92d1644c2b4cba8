package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/metrics"
	"github.com/23skdu/irisgauge/internal/storage"
	"github.com/23skdu/irisgauge/internal/template"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
)

const (
	fileFormat  = "irisgauge.matrix"
	fileVersion = "1"

	// batchRows bounds the size of each IPC record batch.
	batchRows = 1 << 16
)

var cellFields = []arrow.Field{
	{Name: "i", Type: arrow.PrimitiveTypes.Int32},
	{Name: "j", Type: arrow.PrimitiveTypes.Int32},
	{Name: "genuine", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "score", Type: arrow.PrimitiveTypes.Float64},
}

func fileSchema(n int, fingerprint, scorer string) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"format", "version", "n", "fingerprint", "scorer"},
		[]string{fileFormat, fileVersion, strconv.Itoa(n), fingerprint, scorer},
	)
	return arrow.NewSchema(cellFields, &md)
}

// Save writes the matrix as an Arrow IPC file, one row per unordered pair.
// The file replaces path atomically.
func Save(path string, m *Matrix) error {
	schema := fileSchema(m.n, m.fingerprint, m.scorer)
	err := storage.WriteFileAtomic(path, "matrix", func(w io.Writer) error {
		mem := memory.NewGoAllocator()
		fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
		if err != nil {
			return err
		}

		b := array.NewRecordBuilder(mem, schema)
		defer b.Release()
		iB := b.Field(0).(*array.Int32Builder)
		jB := b.Field(1).(*array.Int32Builder)
		gB := b.Field(2).(*array.BooleanBuilder)
		sB := b.Field(3).(*array.Float64Builder)

		flush := func() error {
			rec := b.NewRecord()
			defer rec.Release()
			return fw.Write(rec)
		}

		var werr error
		rows := 0
		m.Pairs(func(i, j int, c Cell) {
			if werr != nil {
				return
			}
			iB.Append(int32(i))
			jB.Append(int32(j))
			gB.Append(c.Genuine)
			sB.Append(c.Score)
			rows++
			if rows == batchRows {
				werr = flush()
				rows = 0
			}
		})
		if werr == nil && rows > 0 {
			werr = flush()
		}
		if werr != nil {
			_ = fw.Close()
			return werr
		}
		return fw.Close()
	})
	if err != nil {
		return ierrors.WrapStorageError(err, "save_matrix", "failed to persist distance matrix").
			WithContext("path", path)
	}
	return nil
}

func unavailable(path, reason string, cause error) error {
	err := fmt.Errorf("%w: %s", ierrors.ErrMatrixUnavailable, reason)
	if cause != nil {
		err = fmt.Errorf("%w: %s: %w", ierrors.ErrMatrixUnavailable, reason, cause)
	}
	return ierrors.WrapStorageError(err, "load_matrix", reason).WithContext("path", path)
}

func metaValue(md arrow.Metadata, key string) string {
	if idx := md.FindKey(key); idx >= 0 {
		return md.Values()[idx]
	}
	return ""
}

// Load reads a matrix written by Save and checks it against the current
// dataset and metric: n records with the given fingerprint, scored by the
// named scorer. Every failure wraps ErrMatrixUnavailable, which tells the
// caller to recompute.
func Load(path string, n int, fingerprint, scorer string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable(path, "cannot open", err)
	}
	defer func() { _ = f.Close() }()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, unavailable(path, "not a complete Arrow IPC file", err)
	}
	defer func() { _ = r.Close() }()

	schema := r.Schema()
	md := schema.Metadata()
	if got := metaValue(md, "format"); got != fileFormat {
		return nil, unavailable(path, fmt.Sprintf("format %q", got), nil)
	}
	if got := metaValue(md, "version"); got != fileVersion {
		return nil, unavailable(path, fmt.Sprintf("unsupported version %q", got), nil)
	}
	if got := metaValue(md, "n"); got != strconv.Itoa(n) {
		return nil, unavailable(path, fmt.Sprintf("size %s, dataset has %d records", got, n), nil)
	}
	if got := metaValue(md, "fingerprint"); got != fingerprint {
		return nil, unavailable(path, "fingerprint differs from current dataset", nil)
	}
	if got := metaValue(md, "scorer"); got != scorer {
		return nil, unavailable(path, fmt.Sprintf("scored with %q, want %q", got, scorer), nil)
	}
	if len(schema.Fields()) != len(cellFields) {
		return nil, unavailable(path, "unexpected schema", nil)
	}
	for k, fld := range schema.Fields() {
		if fld.Name != cellFields[k].Name || !arrow.TypeEqual(fld.Type, cellFields[k].Type) {
			return nil, unavailable(path, fmt.Sprintf("unexpected column %q", fld.Name), nil)
		}
	}

	m := newMatrix(n, fingerprint, scorer)
	seen := make([]bool, len(m.cells))
	count := 0
	for k := 0; k < r.NumRecords(); k++ {
		rec, err := r.Record(k)
		if err != nil {
			return nil, unavailable(path, fmt.Sprintf("batch %d unreadable", k), err)
		}
		iCol, ok1 := rec.Column(0).(*array.Int32)
		jCol, ok2 := rec.Column(1).(*array.Int32)
		gCol, ok3 := rec.Column(2).(*array.Boolean)
		sCol, ok4 := rec.Column(3).(*array.Float64)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, unavailable(path, fmt.Sprintf("batch %d has unexpected column types", k), nil)
		}
		if iCol.NullN()+jCol.NullN()+gCol.NullN()+sCol.NullN() > 0 {
			return nil, unavailable(path, fmt.Sprintf("batch %d contains nulls", k), nil)
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			i, j := int(iCol.Value(row)), int(jCol.Value(row))
			if i < 0 || j <= i || j >= n {
				return nil, unavailable(path, fmt.Sprintf("pair (%d,%d) out of range", i, j), nil)
			}
			score := sCol.Value(row)
			if math.IsNaN(score) {
				return nil, unavailable(path, fmt.Sprintf("pair (%d,%d) has NaN score", i, j), nil)
			}
			off := m.offset(i, j)
			if seen[off] {
				return nil, unavailable(path, fmt.Sprintf("pair (%d,%d) duplicated", i, j), nil)
			}
			seen[off] = true
			m.cells[off] = Cell{Genuine: gCol.Value(row), Score: score}
			count++
		}
	}
	if count != len(m.cells) {
		return nil, unavailable(path, fmt.Sprintf("truncated: %d of %d pairs", count, len(m.cells)), nil)
	}
	return m, nil
}

// Cache reuses a persisted matrix for the same dataset snapshot and scorer
// and recomputes it otherwise.
type Cache struct {
	Path   string
	Logger zerolog.Logger
}

// LoadOrCompute returns the cached matrix when it matches records, or
// computes and persists a new one. cached reports which path was taken.
func (c Cache) LoadOrCompute(ctx context.Context, e *Engine, records []template.Record) (m *Matrix, cached bool, err error) {
	logger := c.Logger.With().Str("component", "matrix_cache").Logger()
	if c.Path != "" {
		m, err := Load(c.Path, len(records), template.Fingerprint(records), e.scorer.Name())
		if err == nil {
			metrics.MatrixCacheTotal.WithLabelValues("hit").Inc()
			logger.Info().Str("path", c.Path).Int("pairs", m.NumPairs()).Msg("Reusing persisted distance matrix")
			return m, true, nil
		}
		result := "invalid"
		if errors.Is(err, os.ErrNotExist) {
			result = "miss"
		}
		metrics.MatrixCacheTotal.WithLabelValues(result).Inc()
		logger.Info().Err(err).Str("path", c.Path).Str("result", result).Msg("Recomputing distance matrix")
	}

	m, err = e.Compute(ctx, records)
	if err != nil {
		return nil, false, err
	}
	if c.Path != "" {
		if err := Save(c.Path, m); err != nil {
			return nil, false, err
		}
		logger.Info().Str("path", c.Path).Msg("Distance matrix persisted")
	}
	return m, false, nil
}
