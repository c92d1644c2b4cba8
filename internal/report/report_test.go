package report

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/23skdu/irisgauge/internal/eval"
	"github.com/23skdu/irisgauge/internal/matrix"
	"github.com/23skdu/irisgauge/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioReport(t *testing.T) *sweep.Report {
	t.Helper()
	m, err := matrix.FromUpper(4, "scenario", []matrix.Cell{
		{Genuine: true, Score: 10}, {Score: 60}, {Score: 55},
		{Score: 58}, {Score: 62},
		{Genuine: true, Score: 12},
	})
	require.NoError(t, err)
	rep, err := sweep.NewController().Sweep(context.Background(), m, sweep.Values(5, 30, 70))
	require.NoError(t, err)
	return rep
}

// impostorOnlyReport has an undefined FRR at every point.
func impostorOnlyReport(t *testing.T) *sweep.Report {
	t.Helper()
	m, err := matrix.FromUpper(3, "impostors", []matrix.Cell{{Score: 0.1}, {Score: 0.2}, {Score: 0.3}})
	require.NoError(t, err)
	rep, err := sweep.NewController().Sweep(context.Background(), m, sweep.Values(0.15, 0.25))
	require.NoError(t, err)
	return rep
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.parquet")
	rep := scenarioReport(t)

	require.NoError(t, Write(path, rep))
	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, rep.RunID, got.RunID)
	assert.Equal(t, rep.Records, got.Records)
	assert.Equal(t, rep.Genuine, got.Genuine)
	assert.Equal(t, rep.Impostor, got.Impostor)
	assert.Equal(t, rep.Fingerprint, got.Fingerprint)
	assert.Equal(t, rep.Points, got.Points)
	assert.Equal(t, rep.BestFAR, got.BestFAR)
	assert.Equal(t, rep.BestFRR, got.BestFRR)
	assert.Equal(t, rep.EER, got.EER)
	assert.False(t, got.Partial)
}

func TestWriteRead_UndefinedRatesAndMissingSelections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.parquet")
	rep := impostorOnlyReport(t)
	require.False(t, rep.BestFRR.Found)

	require.NoError(t, Write(path, rep))
	got, err := Read(path)
	require.NoError(t, err)
	assert.False(t, got.BestFRR.Found)
	assert.False(t, got.EER.Found)
	assert.True(t, got.BestFAR.Found)
	for _, p := range got.Points {
		assert.False(t, p.FRR().IsDefined())
	}
}

func TestRead_RejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "absent.parquet"))
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.parquet")
	require.NoError(t, os.WriteFile(junk, []byte("nope"), 0o644))
	_, err = Read(junk)
	assert.Error(t, err)
}

func TestReadSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.parquet")
	require.NoError(t, Write(path, scenarioReport(t)))

	s, err := ReadSeries(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, []float64{5, 30, 70}, s.Threshold)
	assert.Equal(t, []eval.Rate{eval.Defined(0), eval.Defined(0), eval.Defined(1)}, s.FAR)
	assert.Equal(t, []eval.Rate{eval.Defined(1), eval.Defined(0), eval.Defined(0)}, s.FRR)
}

func TestReadSeries_UndefinedAsNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.parquet")
	require.NoError(t, Write(path, impostorOnlyReport(t)))

	s, err := ReadSeries(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	for k := range s.FRR {
		assert.False(t, s.FRR[k].IsDefined())
		assert.True(t, s.FAR[k].IsDefined())
	}
}

func TestReadSeries_Missing(t *testing.T) {
	_, err := ReadSeries(context.Background(), filepath.Join(t.TempDir(), "absent.parquet"))
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.parquet")
	require.NoError(t, Write(path, impostorOnlyReport(t)))

	out := filepath.Join(dir, "csv", "report.csv")
	require.NoError(t, ExportCSV(context.Background(), path, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"threshold", "far", "frr", "acceptance", "rejection", "false_acceptance", "false_rejection"}, records[0])
	thr, err := strconv.ParseFloat(records[1][0], 64)
	require.NoError(t, err)
	assert.Equal(t, 0.15, thr)
	assert.Empty(t, records[1][2], "undefined FRR is an empty field")

	entries, err := os.ReadDir(filepath.Join(dir, "csv"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
