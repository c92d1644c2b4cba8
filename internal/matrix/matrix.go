// Package matrix computes and persists the pairwise distance matrix of an
// enrollment set.
package matrix

import (
	"fmt"
	"math"
)

// Cell is the outcome of comparing two enrollment records.
type Cell struct {
	Genuine bool
	Score   float64
}

// Matrix is a symmetric n x n matrix of cells with an unused diagonal. Only
// the upper triangle is stored, so At(i, j) and At(j, i) read the same cell.
type Matrix struct {
	n           int
	cells       []Cell
	fingerprint string
	scorer      string
}

// NumPairs returns n(n-1)/2, the number of unordered pairs among n records.
func NumPairs(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

func newMatrix(n int, fingerprint, scorer string) *Matrix {
	return &Matrix{n: n, cells: make([]Cell, NumPairs(n)), fingerprint: fingerprint, scorer: scorer}
}

// FromUpper builds a matrix from its upper triangle in row-major order:
// (0,1), (0,2), ..., (0,n-1), (1,2), ...
func FromUpper(n int, fingerprint string, upper []Cell) (*Matrix, error) {
	if n < 0 {
		return nil, fmt.Errorf("matrix: negative size %d", n)
	}
	if len(upper) != NumPairs(n) {
		return nil, fmt.Errorf("matrix: %d cells for n=%d, want %d", len(upper), n, NumPairs(n))
	}
	m := newMatrix(n, fingerprint, "")
	copy(m.cells, upper)
	return m, nil
}

// Len returns n.
func (m *Matrix) Len() int { return m.n }

// NumPairs returns the number of stored cells.
func (m *Matrix) NumPairs() int { return len(m.cells) }

// Fingerprint identifies the dataset snapshot the matrix was computed from.
func (m *Matrix) Fingerprint() string { return m.fingerprint }

// Scorer names the metric the scores were computed with. It is empty for
// matrices built with FromUpper.
func (m *Matrix) Scorer() string { return m.scorer }

// offset returns the storage index of (i, j) for i < j.
func (m *Matrix) offset(i, j int) int {
	return i*(2*m.n-i-1)/2 + (j - i - 1)
}

// At returns cell (i, j). The diagonal and out-of-range indices report false.
func (m *Matrix) At(i, j int) (Cell, bool) {
	if i == j || i < 0 || j < 0 || i >= m.n || j >= m.n {
		return Cell{}, false
	}
	if i > j {
		i, j = j, i
	}
	return m.cells[m.offset(i, j)], true
}

// Pairs calls fn once for every unordered pair i < j in row-major order.
func (m *Matrix) Pairs(fn func(i, j int, c Cell)) {
	k := 0
	for i := 0; i < m.n-1; i++ {
		for j := i + 1; j < m.n; j++ {
			fn(i, j, m.cells[k])
			k++
		}
	}
}

// Cells exposes the upper triangle for read-only scans. Callers must not
// modify the returned slice.
func (m *Matrix) Cells() []Cell { return m.cells }

// ClassCounts returns the number of genuine and impostor pairs.
func (m *Matrix) ClassCounts() (genuine, impostor int) {
	for _, c := range m.cells {
		if c.Genuine {
			genuine++
		} else {
			impostor++
		}
	}
	return genuine, impostor
}

// Equal reports whether both matrices hold the same size, fingerprint,
// scorer and cells. Scores compare bit-for-bit so NaN never equals anything but itself.
func (m *Matrix) Equal(o *Matrix) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.n != o.n || m.fingerprint != o.fingerprint || m.scorer != o.scorer || len(m.cells) != len(o.cells) {
		return false
	}
	for k := range m.cells {
		a, b := m.cells[k], o.cells[k]
		if a.Genuine != b.Genuine || math.Float64bits(a.Score) != math.Float64bits(b.Score) {
			return false
		}
	}
	return true
}
