package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sample references one image of one subject.
type Sample struct {
	Label string
	Ref   string
}

// Source enumerates a dataset as an ordered sequence of samples. The order
// must be stable across runs over the same data since it fixes matrix indices.
type Source interface {
	Samples(ctx context.Context) ([]Sample, error)
}

// eyes are the per-subject partitions, in enumeration order.
var eyes = []string{"left", "right"}

// DirSource walks <Root>/<subject>/{left,right}/*<Ext>. Each sample is
// labeled "<subject><eye>", so left and right eyes of the same subject are
// distinct identities.
type DirSource struct {
	Root string
	Ext  string // defaults to ".bmp"
}

// Samples implements Source. Subjects, eyes and files are visited in
// lexicographic order.
func (s DirSource) Samples(ctx context.Context) ([]Sample, error) {
	ext := s.Ext
	if ext == "" {
		ext = ".bmp"
	}

	subjects, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("template: read dataset root: %w", err)
	}

	var samples []Sample
	for _, subject := range subjects {
		if !subject.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, eye := range eyes {
			dir := filepath.Join(s.Root, subject.Name(), eye)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("template: read %s: %w", dir, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				samples = append(samples, Sample{
					Label: subject.Name() + eye,
					Ref:   filepath.Join(dir, name),
				})
			}
		}
	}
	return samples, nil
}

// StaticSource serves a fixed sample list.
type StaticSource []Sample

// Samples implements Source.
func (s StaticSource) Samples(context.Context) ([]Sample, error) {
	return append([]Sample(nil), s...), nil
}
