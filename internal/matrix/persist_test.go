package matrix

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/logging"
	"github.com/23skdu/irisgauge/internal/match"
	"github.com/23skdu/irisgauge/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioMatrix(t *testing.T) *Matrix {
	t.Helper()
	m, err := FromUpper(4, "scenario", []Cell{
		{Genuine: true, Score: 10}, {Score: 60}, {Score: 55},
		{Score: 58}, {Score: 62},
		{Genuine: true, Score: 12},
	})
	require.NoError(t, err)
	return m
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distance.arrow")
	m := scenarioMatrix(t)

	require.NoError(t, Save(path, m))
	got, err := Load(path, 4, "scenario", "")
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestSaveLoad_LargeMatrixSpansBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n := 400 // 79800 pairs, more than one batch
	upper := make([]Cell, NumPairs(n))
	for k := range upper {
		upper[k] = Cell{Genuine: rng.Intn(10) == 0, Score: rng.Float64()}
	}
	m, err := FromUpper(n, "big", upper)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "distance.arrow")
	require.NoError(t, Save(path, m))
	got, err := Load(path, n, "big", "")
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestLoad_Unavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distance.arrow")
	require.NoError(t, Save(path, scenarioMatrix(t)))

	cases := []struct {
		name   string
		path   string
		n      int
		fp     string
		scorer string
	}{
		{"missing", filepath.Join(dir, "absent.arrow"), 4, "scenario", ""},
		{"size mismatch", path, 5, "scenario", ""},
		{"fingerprint mismatch", path, 4, "other", ""},
		{"scorer mismatch", path, 4, "scenario", "rotation:8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.path, tc.n, tc.fp, tc.scorer)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ierrors.ErrMatrixUnavailable))
		})
	}

	t.Run("truncated", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		cut := filepath.Join(dir, "cut.arrow")
		require.NoError(t, os.WriteFile(cut, data[:len(data)/2], 0o644))

		_, err = Load(cut, 4, "scenario", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ierrors.ErrMatrixUnavailable))
	})

	t.Run("garbage", func(t *testing.T) {
		junk := filepath.Join(dir, "junk.arrow")
		require.NoError(t, os.WriteFile(junk, []byte("not arrow at all"), 0o644))
		_, err := Load(junk, 4, "scenario", "")
		assert.True(t, errors.Is(err, ierrors.ErrMatrixUnavailable))
	})
}

func TestSave_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distance.arrow")
	require.NoError(t, Save(path, scenarioMatrix(t)))

	next, err := FromUpper(2, "next", []Cell{{Genuine: true, Score: 0.25}})
	require.NoError(t, err)
	require.NoError(t, Save(path, next))

	got, err := Load(path, 2, "next", "")
	require.NoError(t, err)
	assert.True(t, next.Equal(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCache_LoadOrCompute(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	records := randomRecords(rng, 12, 3)
	cache := Cache{Path: filepath.Join(t.TempDir(), "cache", "distance.arrow"), Logger: logging.DiscardLogger()}

	first, cached, err := cache.LoadOrCompute(context.Background(), NewEngine(match.Hamming{}), records)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := cache.LoadOrCompute(context.Background(), NewEngine(match.Hamming{}), records)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.True(t, first.Equal(second))

	// A changed dataset invalidates the cache instead of reusing a mismatched matrix
	changed := append([]template.Record(nil), records[:11]...)
	third, cached, err := cache.LoadOrCompute(context.Background(), NewEngine(match.Hamming{}), changed)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 11, third.Len())
}

func TestCache_LoadOrCompute_ScorerChangeRecomputes(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	records := randomRecords(rng, 10, 3)
	cache := Cache{Path: filepath.Join(t.TempDir(), "distance.arrow"), Logger: logging.DiscardLogger()}
	ctx := context.Background()

	plain, cached, err := cache.LoadOrCompute(ctx, NewEngine(match.Hamming{}), records)
	require.NoError(t, err)
	require.False(t, cached)
	assert.Equal(t, "hamming", plain.Scorer())

	rotated, cached, err := cache.LoadOrCompute(ctx, NewEngine(match.Rotation{MaxShift: 8}), records)
	require.NoError(t, err)
	assert.False(t, cached, "matrix scored with another metric must not be reused")
	assert.Equal(t, "rotation:8", rotated.Scorer())

	// A different shift is a different metric too
	_, cached, err = cache.LoadOrCompute(ctx, NewEngine(match.Rotation{MaxShift: 2}), records)
	require.NoError(t, err)
	assert.False(t, cached)

	again, cached, err := cache.LoadOrCompute(ctx, NewEngine(match.Rotation{MaxShift: 2}), records)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "rotation:2", again.Scorer())
}

func TestFromUpper_Validates(t *testing.T) {
	_, err := FromUpper(3, "", []Cell{{}, {}})
	assert.Error(t, err)
	_, err = FromUpper(-1, "", nil)
	assert.Error(t, err)
}
