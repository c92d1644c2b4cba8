package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

const (
	templateFormat  = "irisgauge.templates"
	templateVersion = "1"

	metaFormat  = "format"
	metaVersion = "version"
	metaCount   = "count"
)

// TemplateRow represents a single enrollment record for Parquet serialization.
// Bits and Mask hold the row-major packed code; HasMask distinguishes an
// absent mask from an empty one.
type TemplateRow struct {
	Index   int32    `parquet:"index"`
	Label   string   `parquet:"label"`
	Rows    int32    `parquet:"rows"`
	Cols    int32    `parquet:"cols"`
	Bits    []uint64 `parquet:"bits"`
	HasMask bool     `parquet:"has_mask"`
	Mask    []uint64 `parquet:"mask"`
}

// WriteTemplates persists the enrollment set to path atomically.
func WriteTemplates(path string, rows []TemplateRow) error {
	return WriteFileAtomic(path, "templates", func(w io.Writer) error {
		pw := parquet.NewGenericWriter[TemplateRow](w,
			parquet.Compression(&parquet.Zstd),
			parquet.KeyValueMetadata(metaFormat, templateFormat),
			parquet.KeyValueMetadata(metaVersion, templateVersion),
			parquet.KeyValueMetadata(metaCount, strconv.Itoa(len(rows))),
		)
		if len(rows) > 0 {
			if _, err := pw.Write(rows); err != nil {
				_ = pw.Close()
				return err
			}
		}
		return pw.Close()
	})
}

// ReadTemplates loads an enrollment set written by WriteTemplates. A missing
// file is reported with an error wrapping os.ErrNotExist.
func ReadTemplates(path string) ([]TemplateRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open templates: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("storage: stat templates: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("storage: templates file %s is not valid parquet: %w", path, err)
	}

	if format, _ := pf.Lookup(metaFormat); format != templateFormat {
		return nil, fmt.Errorf("storage: %s has format %q, want %q", path, format, templateFormat)
	}
	if version, _ := pf.Lookup(metaVersion); version != templateVersion {
		return nil, fmt.Errorf("storage: %s has unsupported version %q", path, version)
	}
	countStr, _ := pf.Lookup(metaCount)
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, fmt.Errorf("storage: %s has invalid count %q", path, countStr)
	}

	pr := parquet.NewGenericReader[TemplateRow](pf)
	defer func() { _ = pr.Close() }()

	rows := make([]TemplateRow, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("storage: read templates: %w", err)
	}
	rows = rows[:n]

	if len(rows) != count {
		return nil, fmt.Errorf("storage: %s truncated: %d rows, header says %d", path, len(rows), count)
	}
	for i := range rows {
		if int(rows[i].Index) != i {
			return nil, fmt.Errorf("storage: %s out of order at row %d (index %d)", path, i, rows[i].Index)
		}
	}
	return rows, nil
}
