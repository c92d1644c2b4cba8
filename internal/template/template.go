// Package template holds enrollment records: fixed-form binary iris codes
// labeled by subject, how they are acquired from a dataset, and how they are
// cached between runs.
package template

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrShape is returned for codes whose dimensions or backing storage disagree.
var ErrShape = errors.New("template: invalid shape")

// Template is a Rows x Cols binary code packed row-major into 64-bit words.
// Mask, when non-nil, has the same layout; a set bit marks a usable position.
// Templates are treated as immutable once built.
type Template struct {
	Rows int
	Cols int
	Bits []uint64
	Mask []uint64
}

// Record is one enrolled sample. Two records form a genuine pair iff their
// labels are equal.
type Record struct {
	Label    string
	Template Template
}

func wordsFor(rows, cols int) int {
	return (rows*cols + 63) / 64
}

// New allocates an all-zero template.
func New(rows, cols int) Template {
	return Template{Rows: rows, Cols: cols, Bits: make([]uint64, wordsFor(rows, cols))}
}

// FromRows builds a template from a matrix of 0/1 values. mask may be nil.
func FromRows(code [][]uint8, mask [][]uint8) (Template, error) {
	if len(code) == 0 || len(code[0]) == 0 {
		return Template{}, fmt.Errorf("%w: empty code", ErrShape)
	}
	rows, cols := len(code), len(code[0])
	t := New(rows, cols)
	if err := fill(t.Bits, code, rows, cols); err != nil {
		return Template{}, err
	}
	if mask != nil {
		if len(mask) != rows {
			return Template{}, fmt.Errorf("%w: mask has %d rows, code has %d", ErrShape, len(mask), rows)
		}
		t.Mask = make([]uint64, len(t.Bits))
		if err := fill(t.Mask, mask, rows, cols); err != nil {
			return Template{}, err
		}
	}
	return t, nil
}

func fill(dst []uint64, src [][]uint8, rows, cols int) error {
	for r := 0; r < rows; r++ {
		if len(src[r]) != cols {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, r, len(src[r]), cols)
		}
		for c, v := range src[r] {
			switch v {
			case 0:
			case 1:
				k := r*cols + c
				dst[k/64] |= 1 << (k % 64)
			default:
				return fmt.Errorf("%w: value %d at (%d,%d) is not a bit", ErrShape, v, r, c)
			}
		}
	}
	return nil
}

// Validate checks that the packed storage matches the declared dimensions.
func (t Template) Validate() error {
	if t.Rows <= 0 || t.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrShape, t.Rows, t.Cols)
	}
	want := wordsFor(t.Rows, t.Cols)
	if len(t.Bits) != want {
		return fmt.Errorf("%w: %d words for %dx%d, want %d", ErrShape, len(t.Bits), t.Rows, t.Cols, want)
	}
	if t.Mask != nil && len(t.Mask) != want {
		return fmt.Errorf("%w: mask has %d words, want %d", ErrShape, len(t.Mask), want)
	}
	return nil
}

// Len returns the number of code bits.
func (t Template) Len() int { return t.Rows * t.Cols }

// Tail returns how many bits of the final word are used (0 means all 64).
func (t Template) Tail() uint { return uint(t.Len() % 64) }

// Bit reports the code bit at row r, column c.
func (t Template) Bit(r, c int) bool {
	k := r*t.Cols + c
	return t.Bits[k/64]&(1<<(k%64)) != 0
}

// Valid reports whether position (r,c) is usable under the mask.
func (t Template) Valid(r, c int) bool {
	if t.Mask == nil {
		return true
	}
	k := r*t.Cols + c
	return t.Mask[k/64]&(1<<(k%64)) != 0
}

// SameShape reports whether both templates have identical dimensions.
func (t Template) SameShape(o Template) bool {
	return t.Rows == o.Rows && t.Cols == o.Cols
}

// Rotate returns a copy whose columns are circularly shifted by shift
// positions. Iris codes are unwrapped angularly, so a column shift models
// head tilt between captures.
func (t Template) Rotate(shift int) Template {
	if t.Cols == 0 {
		return t
	}
	shift %= t.Cols
	if shift < 0 {
		shift += t.Cols
	}
	if shift == 0 {
		return t
	}
	out := Template{Rows: t.Rows, Cols: t.Cols, Bits: rotateWords(t.Bits, t.Rows, t.Cols, shift)}
	if t.Mask != nil {
		out.Mask = rotateWords(t.Mask, t.Rows, t.Cols, shift)
	}
	return out
}

func rotateWords(src []uint64, rows, cols, shift int) []uint64 {
	dst := make([]uint64, len(src))
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			k := base + c
			if src[k/64]&(1<<(k%64)) == 0 {
				continue
			}
			d := base + (c+shift)%cols
			dst[d/64] |= 1 << (d % 64)
		}
	}
	return dst
}

// Equal reports numeric equality of shape, bits and mask.
func (t Template) Equal(o Template) bool {
	if !t.SameShape(o) || len(t.Bits) != len(o.Bits) {
		return false
	}
	for i := range t.Bits {
		if t.Bits[i] != o.Bits[i] {
			return false
		}
	}
	if (t.Mask == nil) != (o.Mask == nil) {
		return false
	}
	for i := range t.Mask {
		if t.Mask[i] != o.Mask[i] {
			return false
		}
	}
	return true
}

// Fingerprint hashes labels, order and template contents. A persisted
// distance matrix is only reused when its fingerprint matches.
func Fingerprint(records []Record) string {
	h := xxhash.New()
	var buf [8]byte
	putU64 := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}

	putU64(uint64(len(records)))
	for _, rec := range records {
		putU64(uint64(len(rec.Label)))
		_, _ = h.WriteString(rec.Label)
		putU64(uint64(rec.Template.Rows))
		putU64(uint64(rec.Template.Cols))
		for _, w := range rec.Template.Bits {
			putU64(w)
		}
		if rec.Template.Mask == nil {
			putU64(0)
			continue
		}
		putU64(1)
		for _, w := range rec.Template.Mask {
			putU64(w)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
