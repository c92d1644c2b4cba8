package report

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/eval"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/renameio"
	duckdb "github.com/marcboeker/go-duckdb"
)

// Series is the FAR/FRR curve of a report, with threshold on the x axis.
type Series struct {
	Threshold []float64
	FAR       []eval.Rate
	FRR       []eval.Rate
}

// Len returns the number of points.
func (s *Series) Len() int { return len(s.Threshold) }

// sqlString quotes s as a SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// openDuckDB opens an in-memory DuckDB and a dedicated connection.
func openDuckDB(ctx context.Context) (*sql.DB, *sql.Conn, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open conn: %w", err)
	}
	return db, conn, nil
}

// ReadSeries reads the FAR/FRR curve of a persisted report through DuckDB,
// ordered by threshold. Undefined rates are stored as nulls and come back
// as eval.Undefined.
func ReadSeries(ctx context.Context, path string) (*Series, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ierrors.WrapStorageError(err, "read_series", "report not found").WithContext("path", path)
	}
	db, conn, err := openDuckDB(ctx)
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "read_series", "duckdb unavailable")
	}
	defer func() {
		_ = conn.Close()
		_ = db.Close()
	}()

	var ar *duckdb.Arrow
	err = conn.Raw(func(c interface{}) error {
		dc, ok := c.(driver.Conn)
		if !ok {
			return fmt.Errorf("not a duckdb driver connection")
		}
		var err error
		ar, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "read_series", "failed to init arrow")
	}

	query := fmt.Sprintf(
		"SELECT CAST(threshold AS DOUBLE) AS threshold, CAST(far AS DOUBLE) AS far, CAST(frr AS DOUBLE) AS frr "+
			"FROM read_parquet(%s) ORDER BY threshold", sqlString(path))
	rdr, err := ar.QueryContext(ctx, query)
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "read_series", "query execution failed").WithContext("path", path)
	}
	defer rdr.Release()

	s := &Series{}
	for rdr.Next() {
		rec := rdr.Record()
		thr, ok1 := rec.Column(0).(*array.Float64)
		far, ok2 := rec.Column(1).(*array.Float64)
		frr, ok3 := rec.Column(2).(*array.Float64)
		if !ok1 || !ok2 || !ok3 {
			return nil, ierrors.NewStorageError("read_series", "unexpected column types").WithContext("path", path)
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			s.Threshold = append(s.Threshold, thr.Value(row))
			s.FAR = append(s.FAR, rateAt(far, row))
			s.FRR = append(s.FRR, rateAt(frr, row))
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, ierrors.WrapStorageError(err, "read_series", "query execution failed").WithContext("path", path)
	}
	return s, nil
}

func rateAt(col *array.Float64, row int) eval.Rate {
	if col.IsNull(row) {
		return eval.Undefined()
	}
	return eval.Defined(col.Value(row))
}

// ExportCSV writes the rows of a persisted report as CSV with a header,
// ordered by threshold. Undefined rates are empty fields. csvPath is
// replaced atomically.
func ExportCSV(ctx context.Context, parquetPath, csvPath string) error {
	if _, err := os.Stat(parquetPath); err != nil {
		return ierrors.WrapStorageError(err, "export_csv", "report not found").WithContext("path", parquetPath)
	}
	dir := filepath.Dir(csvPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ierrors.WrapStorageError(err, "export_csv", "cannot create output directory").WithContext("path", dir)
	}

	pf, err := renameio.TempFile(dir, csvPath)
	if err != nil {
		return ierrors.WrapStorageError(err, "export_csv", "cannot create temp file").WithContext("path", csvPath)
	}
	defer func() { _ = pf.Cleanup() }()

	db, conn, err := openDuckDB(ctx)
	if err != nil {
		return ierrors.WrapStorageError(err, "export_csv", "duckdb unavailable")
	}
	defer func() {
		_ = conn.Close()
		_ = db.Close()
	}()

	stmt := fmt.Sprintf(
		"COPY (SELECT threshold, far, frr, acceptance, rejection, false_acceptance, false_rejection "+
			"FROM read_parquet(%s) ORDER BY threshold) TO %s (FORMAT CSV, HEADER, DELIMITER ',')",
		sqlString(parquetPath), sqlString(pf.Name()))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return ierrors.WrapStorageError(err, "export_csv", "copy failed").WithContext("path", csvPath)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return ierrors.WrapStorageError(err, "export_csv", "cannot replace csv").WithContext("path", csvPath)
	}
	return nil
}
