// Package report persists sweep reports as Parquet and reads them back for
// plotting.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/eval"
	"github.com/23skdu/irisgauge/internal/storage"
	"github.com/23skdu/irisgauge/internal/sweep"
	"github.com/parquet-go/parquet-go"
)

const (
	reportFormat  = "irisgauge.report"
	reportVersion = "1"
)

// Metadata keys.
const (
	keyFormat      = "format"
	keyVersion     = "version"
	keyRunID       = "run_id"
	keyRecords     = "records"
	keyGenuine     = "genuine_pairs"
	keyImpostor    = "impostor_pairs"
	keyFingerprint = "fingerprint"
	keyPartial     = "partial"
	keyBestFAR     = "best_far_threshold"
	keyBestFRR     = "best_frr_threshold"
	keyEER         = "eer_threshold"
)

// Row is one evaluated threshold. FAR and FRR are null when undefined.
type Row struct {
	Threshold       float64  `parquet:"threshold"`
	FAR             *float64 `parquet:"far,optional"`
	FRR             *float64 `parquet:"frr,optional"`
	Acceptance      int64    `parquet:"acceptance"`
	Rejection       int64    `parquet:"rejection"`
	FalseAcceptance int64    `parquet:"false_acceptance"`
	FalseRejection  int64    `parquet:"false_rejection"`
}

func rowOf(o eval.Outcome) Row {
	return Row{
		Threshold:       o.Threshold,
		FAR:             o.FAR().Ptr(),
		FRR:             o.FRR().Ptr(),
		Acceptance:      o.Acceptance,
		Rejection:       o.Rejection,
		FalseAcceptance: o.FalseAcceptance,
		FalseRejection:  o.FalseRejection,
	}
}

func (r Row) outcome() eval.Outcome {
	return eval.Outcome{
		Threshold:       r.Threshold,
		Acceptance:      r.Acceptance,
		Rejection:       r.Rejection,
		FalseAcceptance: r.FalseAcceptance,
		FalseRejection:  r.FalseRejection,
	}
}

func selectionValue(s sweep.Selection) string {
	if !s.Found {
		return ""
	}
	return strconv.FormatFloat(s.Threshold, 'g', -1, 64)
}

// Write persists rep to path atomically.
func Write(path string, rep *sweep.Report) error {
	rows := make([]Row, len(rep.Points))
	for k, p := range rep.Points {
		rows[k] = rowOf(p)
	}

	err := storage.WriteFileAtomic(path, "report", func(w io.Writer) error {
		pw := parquet.NewGenericWriter[Row](w,
			parquet.Compression(&parquet.Zstd),
			parquet.KeyValueMetadata(keyFormat, reportFormat),
			parquet.KeyValueMetadata(keyVersion, reportVersion),
			parquet.KeyValueMetadata(keyRunID, rep.RunID),
			parquet.KeyValueMetadata(keyRecords, strconv.Itoa(rep.Records)),
			parquet.KeyValueMetadata(keyGenuine, strconv.Itoa(rep.Genuine)),
			parquet.KeyValueMetadata(keyImpostor, strconv.Itoa(rep.Impostor)),
			parquet.KeyValueMetadata(keyFingerprint, rep.Fingerprint),
			parquet.KeyValueMetadata(keyPartial, strconv.FormatBool(rep.Partial)),
			parquet.KeyValueMetadata(keyBestFAR, selectionValue(rep.BestFAR)),
			parquet.KeyValueMetadata(keyBestFRR, selectionValue(rep.BestFRR)),
			parquet.KeyValueMetadata(keyEER, selectionValue(rep.EER)),
		)
		if len(rows) > 0 {
			if _, err := pw.Write(rows); err != nil {
				_ = pw.Close()
				return err
			}
		}
		return pw.Close()
	})
	if err != nil {
		return ierrors.WrapStorageError(err, "write_report", "failed to persist sweep report").
			WithContext("path", path)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*sweep.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "read_report", "cannot open report").WithContext("path", path)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "read_report", "cannot stat report").WithContext("path", path)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, ierrors.WrapStorageError(err, "read_report", "not a parquet file").WithContext("path", path)
	}

	meta := func(key string) string {
		v, _ := pf.Lookup(key)
		return v
	}
	if got := meta(keyFormat); got != reportFormat {
		return nil, ierrors.NewStorageError("read_report", fmt.Sprintf("format %q, want %q", got, reportFormat)).
			WithContext("path", path)
	}
	if got := meta(keyVersion); got != reportVersion {
		return nil, ierrors.NewStorageError("read_report", fmt.Sprintf("unsupported version %q", got)).
			WithContext("path", path)
	}

	rep := &sweep.Report{
		RunID:       meta(keyRunID),
		Fingerprint: meta(keyFingerprint),
	}
	ints := []struct {
		key string
		dst *int
	}{{keyRecords, &rep.Records}, {keyGenuine, &rep.Genuine}, {keyImpostor, &rep.Impostor}}
	for _, kv := range ints {
		v, err := strconv.Atoi(meta(kv.key))
		if err != nil {
			return nil, ierrors.NewStorageError("read_report", fmt.Sprintf("invalid %s %q", kv.key, meta(kv.key))).
				WithContext("path", path)
		}
		*kv.dst = v
	}
	if rep.Partial, err = strconv.ParseBool(meta(keyPartial)); err != nil {
		return nil, ierrors.NewStorageError("read_report", "invalid partial flag").WithContext("path", path)
	}

	pr := parquet.NewGenericReader[Row](pf)
	defer func() { _ = pr.Close() }()
	rows := make([]Row, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, ierrors.WrapStorageError(err, "read_report", "cannot read rows").WithContext("path", path)
	}
	rep.Points = make([]eval.Outcome, n)
	for k := range rows[:n] {
		rep.Points[k] = rows[k].outcome()
	}

	if rep.BestFAR, err = lookupSelection(rep.Points, meta(keyBestFAR)); err == nil {
		if rep.BestFRR, err = lookupSelection(rep.Points, meta(keyBestFRR)); err == nil {
			rep.EER, err = lookupSelection(rep.Points, meta(keyEER))
		}
	}
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.ErrorTypeStorage, "read_report", "inconsistent selection").
			WithContext("path", path)
	}
	return rep, nil
}

// lookupSelection resolves a stored selection threshold to its point.
func lookupSelection(points []eval.Outcome, value string) (sweep.Selection, error) {
	if value == "" {
		return sweep.Selection{}, nil
	}
	t, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return sweep.Selection{}, err
	}
	for _, p := range points {
		if p.Threshold == t {
			return sweep.Selection{Found: true, Threshold: t, FAR: p.FAR(), FRR: p.FRR()}, nil
		}
	}
	return sweep.Selection{}, fmt.Errorf("selected threshold %v has no row", t)
}
