package main

import (
	"errors"
	"strings"
	"time"

	"github.com/23skdu/irisgauge/internal/breaker"
	"github.com/23skdu/irisgauge/internal/limiter"
	"github.com/23skdu/irisgauge/internal/match"
	"github.com/23skdu/irisgauge/internal/pipeline"
	"github.com/23skdu/irisgauge/internal/sweep"
	"github.com/23skdu/irisgauge/internal/template"
)

// Config is read from IRISGAUGE_* environment variables.
type Config struct {
	RootPath   string `envconfig:"ROOT_PATH" default:"./dataset"`
	OutputPath string `envconfig:"OUTPUT_PATH" default:"./output"`
	CachePath  string `envconfig:"CACHE_PATH" default:"./cache"`

	Mode         string `envconfig:"MODE" default:"reload"`
	ExtractorCmd string `envconfig:"EXTRACTOR_CMD"`
	ImageExt     string `envconfig:"IMAGE_EXT" default:".bmp"`

	ExtractRateLimit   int           `envconfig:"EXTRACT_RATE_LIMIT" default:"0"` // extractor calls per second, 0 means unlimited
	ExtractBurst       int           `envconfig:"EXTRACT_BURST" default:"0"`
	ExtractMaxFailures uint32        `envconfig:"EXTRACT_MAX_FAILURES" default:"20"` // consecutive failures that stop extraction, 0 disables
	ExtractCooldown    time.Duration `envconfig:"EXTRACT_COOLDOWN" default:"30s"`

	Metric   string `envconfig:"METRIC" default:"hamming"`
	MaxShift int    `envconfig:"MAX_SHIFT" default:"8"`

	// Threshold selection, in order of precedence: an explicit list, a
	// stepped or counted [From, To) range, then k/ScaleTo for k in
	// [ScaleFrom, ScaleTo).
	Thresholds     string  `envconfig:"THRESHOLDS"`
	ThresholdFrom  float64 `envconfig:"THRESHOLD_FROM" default:"0"`
	ThresholdTo    float64 `envconfig:"THRESHOLD_TO" default:"1"`
	ThresholdStep  float64 `envconfig:"THRESHOLD_STEP" default:"0"`
	ThresholdCount int     `envconfig:"THRESHOLD_COUNT" default:"0"`
	ScaleFrom      int     `envconfig:"THRESHOLD_SCALE_FROM" default:"1"`
	ScaleTo        int     `envconfig:"THRESHOLD_SCALE_TO" default:"1000"`

	Workers          int           `envconfig:"WORKERS" default:"0"` // 0 means GOMAXPROCS
	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"5s"`
	ExportCSV        bool          `envconfig:"EXPORT_CSV" default:"false"`

	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR"` // empty disables the endpoint
}

// Config validation errors
var (
	ErrInvalidRootPath      = errors.New("root_path cannot be empty in extract mode")
	ErrInvalidOutputPath    = errors.New("output_path cannot be empty")
	ErrInvalidCachePath     = errors.New("cache_path cannot be empty")
	ErrInvalidMode          = errors.New("mode must be 'reload' or 'extract'")
	ErrMissingExtractor     = errors.New("extractor_cmd is required in extract mode")
	ErrInvalidMetric        = errors.New("metric must be 'hamming' or 'rotation'")
	ErrInvalidMaxShift      = errors.New("max_shift cannot be negative")
	ErrInvalidThresholds    = errors.New("threshold range is invalid")
	ErrInvalidWorkers       = errors.New("workers cannot be negative")
	ErrInvalidRateLimit     = errors.New("extract_rate_limit and extract_burst cannot be negative")
	ErrInvalidLogFormat     = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel      = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidProgressEvery = errors.New("progress_interval must be positive")
)

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		RootPath:           "./dataset",
		OutputPath:         "./output",
		CachePath:          "./cache",
		Mode:               "reload",
		ImageExt:           ".bmp",
		ExtractMaxFailures: 20,
		ExtractCooldown:    30 * time.Second,
		Metric:             "hamming",
		MaxShift:           8,
		ThresholdFrom:      0,
		ThresholdTo:        1,
		ScaleFrom:          1,
		ScaleTo:            1000,
		ProgressInterval:   5 * time.Second,
		LogFormat:          "json",
		LogLevel:           "info",
	}
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	mode, err := template.ParseMode(cfg.Mode)
	if err != nil {
		return ErrInvalidMode
	}
	if mode == template.ModeExtract {
		if cfg.RootPath == "" {
			return ErrInvalidRootPath
		}
		if strings.TrimSpace(cfg.ExtractorCmd) == "" {
			return ErrMissingExtractor
		}
	}
	if cfg.OutputPath == "" {
		return ErrInvalidOutputPath
	}
	if cfg.CachePath == "" {
		return ErrInvalidCachePath
	}
	if cfg.Metric != "hamming" && cfg.Metric != "rotation" {
		return ErrInvalidMetric
	}
	if cfg.MaxShift < 0 {
		return ErrInvalidMaxShift
	}
	if _, err := BuildRange(cfg); err != nil {
		return err
	}
	if cfg.Workers < 0 {
		return ErrInvalidWorkers
	}
	if cfg.ExtractRateLimit < 0 || cfg.ExtractBurst < 0 {
		return ErrInvalidRateLimit
	}
	if cfg.ProgressInterval <= 0 {
		return ErrInvalidProgressEvery
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}

// BuildRange resolves the threshold settings to a sweep range and checks
// that it yields at least one threshold.
func BuildRange(cfg *Config) (sweep.Range, error) {
	var r sweep.Range
	switch {
	case strings.TrimSpace(cfg.Thresholds) != "":
		parsed, err := sweep.ParseValues(cfg.Thresholds)
		if err != nil {
			return sweep.Range{}, errors.Join(ErrInvalidThresholds, err)
		}
		r = parsed
	case cfg.ThresholdStep != 0 || cfg.ThresholdCount != 0:
		r = sweep.Range{
			From:  cfg.ThresholdFrom,
			To:    cfg.ThresholdTo,
			Step:  cfg.ThresholdStep,
			Count: cfg.ThresholdCount,
		}
	default:
		r = sweep.ScaledRange(cfg.ScaleFrom, cfg.ScaleTo)
	}
	thresholds, err := r.Thresholds()
	if err != nil {
		return sweep.Range{}, errors.Join(ErrInvalidThresholds, err)
	}
	if len(thresholds) == 0 {
		return sweep.Range{}, ErrInvalidThresholds
	}
	return r, nil
}

// BuildPipelineConfig converts a validated Config into a pipeline run.
func BuildPipelineConfig(cfg *Config) (pipeline.Config, error) {
	mode, err := template.ParseMode(cfg.Mode)
	if err != nil {
		return pipeline.Config{}, ErrInvalidMode
	}
	scorer, err := match.ByName(cfg.Metric, cfg.MaxShift)
	if err != nil {
		return pipeline.Config{}, ErrInvalidMetric
	}
	r, err := BuildRange(cfg)
	if err != nil {
		return pipeline.Config{}, err
	}

	pc := pipeline.Config{
		RootPath:         cfg.RootPath,
		OutputPath:       cfg.OutputPath,
		CachePath:        cfg.CachePath,
		Mode:             mode,
		Source:           template.DirSource{Root: cfg.RootPath, Ext: cfg.ImageExt},
		Scorer:           scorer,
		Range:            r,
		Workers:          cfg.Workers,
		ExportCSV:        cfg.ExportCSV,
		ProgressInterval: cfg.ProgressInterval,
	}
	if fields := strings.Fields(cfg.ExtractorCmd); len(fields) > 0 {
		rl := limiter.NewRateLimiter(limiter.Config{RPS: cfg.ExtractRateLimit, Burst: cfg.ExtractBurst})
		pc.Extractor = rl.Extractor(template.ExecExtractor{Command: fields[0], Args: fields[1:]})
		if cfg.ExtractMaxFailures > 0 {
			cb := breaker.NewCircuitBreaker(breaker.Settings{
				Name:                   "extractor",
				MaxConsecutiveFailures: cfg.ExtractMaxFailures,
				Cooldown:               cfg.ExtractCooldown,
			})
			pc.Extractor = cb.Extractor(pc.Extractor)
		}
	}
	return pc, nil
}
