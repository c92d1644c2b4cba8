package template

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/23skdu/irisgauge/internal/pool"
)

// outputBuffers holds encoder stdout between invocations.
var outputBuffers = pool.NewBytePool()

// Extractor turns an image reference into a template. A nil template with a
// nil error means the sample has no usable code and is skipped.
type Extractor interface {
	Extract(ctx context.Context, ref string) (*Template, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, ref string) (*Template, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, ref string) (*Template, error) {
	return f(ctx, ref)
}

// ExecExtractor runs an external encoder once per image as
// `Command Args... <ref>`. The encoder prints the code on stdout as rows of
// '0'/'1' characters, optionally followed by a blank line and mask rows of the
// same shape. Empty output means the encoder could not locate an iris.
type ExecExtractor struct {
	Command string
	Args    []string
}

// Extract implements Extractor.
func (e ExecExtractor) Extract(ctx context.Context, ref string) (*Template, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("template: no extractor command configured")
	}
	args := append(append([]string(nil), e.Args...), ref)
	cmd := exec.CommandContext(ctx, e.Command, args...)

	stdout := outputBuffers.Get()
	defer outputBuffers.Put(stdout)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("template: extractor failed for %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return ParseCode(bytes.NewReader(stdout.Bytes()))
}

// ParseCode reads the textual code format produced by external encoders.
// It returns nil, nil for empty input.
func ParseCode(r io.Reader) (*Template, error) {
	var code, mask [][]uint8
	target := &code
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if len(code) > 0 {
				target = &mask
			}
			continue
		}
		row := make([]uint8, len(line))
		for i, ch := range line {
			switch ch {
			case '0':
			case '1':
				row[i] = 1
			default:
				return nil, fmt.Errorf("%w: unexpected character %q", ErrShape, ch)
			}
		}
		*target = append(*target, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("template: read code: %w", err)
	}
	if len(code) == 0 {
		return nil, nil
	}
	if len(mask) == 0 {
		mask = nil
	}
	t, err := FromRows(code, mask)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
