package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/23skdu/irisgauge/internal/match"
	"github.com/23skdu/irisgauge/internal/template"
	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, ValidateConfig(&cfg))
}

func TestConfigDefaults_MatchEnvconfig(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("IRISGAUGE_TEST_UNSET", &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigEnvVars(t *testing.T) {
	t.Setenv("IRISGAUGE_ROOT_PATH", "/data/casia")
	t.Setenv("IRISGAUGE_MODE", "extract")
	t.Setenv("IRISGAUGE_EXTRACTOR_CMD", "iris-encode --fast")
	t.Setenv("IRISGAUGE_METRIC", "rotation")
	t.Setenv("IRISGAUGE_MAX_SHIFT", "4")
	t.Setenv("IRISGAUGE_THRESHOLDS", "0.2,0.3")
	t.Setenv("IRISGAUGE_WORKERS", "6")
	t.Setenv("IRISGAUGE_EXPORT_CSV", "true")
	t.Setenv("IRISGAUGE_EXTRACT_MAX_FAILURES", "0")

	var cfg Config
	require.NoError(t, envconfig.Process("IRISGAUGE", &cfg))
	require.NoError(t, ValidateConfig(&cfg))

	pc, err := BuildPipelineConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, template.ModeExtract, pc.Mode)
	assert.Equal(t, match.Rotation{MaxShift: 4}, pc.Scorer)
	assert.Equal(t, template.ExecExtractor{Command: "iris-encode", Args: []string{"--fast"}}, pc.Extractor)
	assert.Equal(t, template.DirSource{Root: "/data/casia", Ext: ".bmp"}, pc.Source)
	assert.Equal(t, 6, pc.Workers)
	assert.True(t, pc.ExportCSV)

	cfg.ExtractRateLimit = 20
	throttled, err := BuildPipelineConfig(&cfg)
	require.NoError(t, err)
	_, plain := throttled.Extractor.(template.ExecExtractor)
	assert.False(t, plain, "rate limited extractor wraps the command")

	thresholds, err := pc.Range.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.3}, thresholds)
}

func TestValidateConfig_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"mode", func(c *Config) { c.Mode = "replay" }, ErrInvalidMode},
		{"extract without root", func(c *Config) { c.Mode = "extract"; c.ExtractorCmd = "x"; c.RootPath = "" }, ErrInvalidRootPath},
		{"extract without extractor", func(c *Config) { c.Mode = "extract" }, ErrMissingExtractor},
		{"output", func(c *Config) { c.OutputPath = "" }, ErrInvalidOutputPath},
		{"cache", func(c *Config) { c.CachePath = "" }, ErrInvalidCachePath},
		{"metric", func(c *Config) { c.Metric = "euclid" }, ErrInvalidMetric},
		{"max shift", func(c *Config) { c.MaxShift = -1 }, ErrInvalidMaxShift},
		{"scale", func(c *Config) { c.ScaleFrom = 10; c.ScaleTo = 5 }, ErrInvalidThresholds},
		{"step range", func(c *Config) { c.ThresholdStep = 0.1; c.ThresholdTo = -1 }, ErrInvalidThresholds},
		{"list", func(c *Config) { c.Thresholds = "0.5,0.1" }, ErrInvalidThresholds},
		{"list syntax", func(c *Config) { c.Thresholds = "a" }, ErrInvalidThresholds},
		{"workers", func(c *Config) { c.Workers = -2 }, ErrInvalidWorkers},
		{"rate limit", func(c *Config) { c.ExtractRateLimit = -1 }, ErrInvalidRateLimit},
		{"progress", func(c *Config) { c.ProgressInterval = 0 }, ErrInvalidProgressEvery},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, ErrInvalidLogLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := ValidateConfig(&cfg)
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestBuildRange_Precedence(t *testing.T) {
	cfg := DefaultConfig()
	r, err := BuildRange(&cfg)
	require.NoError(t, err)
	thresholds, err := r.Thresholds()
	require.NoError(t, err)
	assert.Len(t, thresholds, 999)

	cfg.ThresholdCount = 4
	r, err = BuildRange(&cfg)
	require.NoError(t, err)
	thresholds, err = r.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, thresholds)

	cfg.Thresholds = "5,30,70"
	r, err = BuildRange(&cfg)
	require.NoError(t, err)
	thresholds, err = r.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 30, 70}, thresholds)
}

func writeCode(t *testing.T, root, subject, eye, name, code string) {
	t.Helper()
	dir := filepath.Join(root, subject, eye)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(code+"\n"), 0o644))
}

func TestRun_EndToEnd(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	dir := t.TempDir()
	root := filepath.Join(dir, "dataset")
	writeCode(t, root, "001", "left", "1.bmp", "0000000000000000")
	writeCode(t, root, "001", "left", "2.bmp", "0000000000000001")
	writeCode(t, root, "002", "left", "1.bmp", "1111111111111111")
	writeCode(t, root, "002", "left", "2.bmp", "1111111111111110")

	t.Setenv("IRISGAUGE_ROOT_PATH", root)
	t.Setenv("IRISGAUGE_OUTPUT_PATH", filepath.Join(dir, "out"))
	t.Setenv("IRISGAUGE_CACHE_PATH", filepath.Join(dir, "cache"))
	t.Setenv("IRISGAUGE_MODE", "extract")
	t.Setenv("IRISGAUGE_EXTRACTOR_CMD", "cat")
	t.Setenv("IRISGAUGE_THRESHOLD_SCALE_TO", "100")
	t.Setenv("IRISGAUGE_EXPORT_CSV", "true")
	t.Setenv("IRISGAUGE_LOG_LEVEL", "error")

	var out bytes.Buffer
	require.Equal(t, 0, run(&out), out.String())
	assert.Contains(t, out.String(), "4 records (0 skipped), 2 genuine / 4 impostor pairs, 99 thresholds")
	assert.Contains(t, out.String(), "best FAR:")
	assert.Contains(t, out.String(), "far=0 frr=0")
	assert.FileExists(t, filepath.Join(dir, "out", "report.csv"))

	// Second run reloads the persisted templates and matrix
	t.Setenv("IRISGAUGE_MODE", "reload")
	out.Reset()
	require.Equal(t, 0, run(&out), out.String())
	assert.Contains(t, out.String(), "4 records")
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IRISGAUGE_MODE", "bogus")
	var out bytes.Buffer
	assert.Equal(t, 2, run(&out))
}
