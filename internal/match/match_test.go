package match

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/23skdu/irisgauge/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRows(t *testing.T, code, mask [][]uint8) template.Template {
	t.Helper()
	tpl, err := template.FromRows(code, mask)
	require.NoError(t, err)
	return tpl
}

func randomTemplate(rng *rand.Rand, rows, cols int) template.Template {
	code := make([][]uint8, rows)
	for r := range code {
		code[r] = make([]uint8, cols)
		for c := range code[r] {
			code[r][c] = uint8(rng.Intn(2))
		}
	}
	tpl, _ := template.FromRows(code, nil)
	return tpl
}

func TestHamming_Score(t *testing.T) {
	a := mustRows(t, [][]uint8{{1, 1, 0, 0}}, nil)
	b := mustRows(t, [][]uint8{{1, 0, 1, 0}}, nil)

	d, err := Hamming{}.Score(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d, 1e-12)

	d, err = Hamming{}.Score(a, a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestHamming_MaskedScore(t *testing.T) {
	a := mustRows(t, [][]uint8{{1, 1, 0, 0}}, [][]uint8{{1, 1, 1, 0}})
	b := mustRows(t, [][]uint8{{1, 0, 1, 1}}, [][]uint8{{1, 1, 1, 1}})

	// Only the first three positions are compared; two of them differ
	d, err := Hamming{}.Score(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, d, 1e-12)
}

func TestHamming_Errors(t *testing.T) {
	a := mustRows(t, [][]uint8{{1, 1}}, nil)
	b := mustRows(t, [][]uint8{{1, 1, 1}}, nil)
	_, err := Hamming{}.Score(a, b)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	m := mustRows(t, [][]uint8{{1, 1}}, [][]uint8{{0, 0}})
	_, err = Hamming{}.Score(m, a)
	assert.True(t, errors.Is(err, ErrNoOverlap))
}

func TestHamming_SymmetricOnRandomCodes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		a := randomTemplate(rng, 8, 37)
		b := randomTemplate(rng, 8, 37)
		ab, err := Hamming{}.Score(a, b)
		require.NoError(t, err)
		ba, err := Hamming{}.Score(b, a)
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}

func TestRotation_RecoversShiftedCode(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := randomTemplate(rng, 4, 32)
	b := a.Rotate(3)

	plain, err := Hamming{}.Score(a, b)
	require.NoError(t, err)
	assert.Greater(t, plain, 0.0)

	d, err := Rotation{MaxShift: 4}.Score(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)

	// Symmetric in its arguments
	d2, err := Rotation{MaxShift: 4}.Score(b, a)
	require.NoError(t, err)
	assert.Equal(t, d, d2)

	// A window too narrow to undo the tilt does no better than its best shift
	narrow, err := Rotation{MaxShift: 1}.Score(a, b)
	require.NoError(t, err)
	assert.Greater(t, narrow, 0.0)
}

func TestMatch_BoundaryIsStrict(t *testing.T) {
	a := mustRows(t, [][]uint8{{1, 1, 0, 0}}, nil)
	b := mustRows(t, [][]uint8{{1, 0, 1, 0}}, nil)

	ok, conf, err := Hamming{}.Match(a, b, 0.5)
	require.NoError(t, err)
	assert.False(t, ok, "score equal to threshold is a non-match")
	assert.InDelta(t, 0.5, conf, 1e-12)

	ok, _, err = Rotation{MaxShift: 0}.Match(a, b, 0.5000001)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.False(t, Accepts(0.3, 0.3))
	assert.True(t, Accepts(0.2999, 0.3))
}

func TestByName(t *testing.T) {
	s, err := ByName("hamming", 0)
	require.NoError(t, err)
	assert.IsType(t, Hamming{}, s)

	s, err = ByName("rotation", 8)
	require.NoError(t, err)
	assert.Equal(t, Rotation{MaxShift: 8}, s)

	_, err = ByName("cosine", 0)
	assert.Error(t, err)
	_, err = ByName("rotation", -1)
	assert.Error(t, err)
}

func TestScorerNames(t *testing.T) {
	assert.Equal(t, "hamming", Hamming{}.Name())
	assert.Equal(t, "rotation:8", Rotation{MaxShift: 8}.Name())
	assert.NotEqual(t, Rotation{MaxShift: 2}.Name(), Rotation{MaxShift: 8}.Name())

	s, err := ByName("rotation", 4)
	require.NoError(t, err)
	assert.Equal(t, "rotation:4", s.Name())
}
