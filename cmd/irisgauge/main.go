package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/logging"
	"github.com/23skdu/irisgauge/internal/pipeline"
	"github.com/23skdu/irisgauge/internal/sweep"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run(os.Stdout))
}

// loadConfig reads an optional .env file, then the environment.
func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("IRISGAUGE", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, nil
}

func run(stdout io.Writer) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "irisgauge"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	pc, err := BuildPipelineConfig(&cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("mode", cfg.Mode).
		Str("root_path", cfg.RootPath).
		Str("output_path", cfg.OutputPath).
		Str("cache_path", cfg.CachePath).
		Str("metric", cfg.Metric).
		Int("workers", cfg.Workers).
		Msg("irisgauge starting")

	res, err := pipeline.NewRunner(pc, logger).Run(ctx)
	if res != nil && res.Report != nil {
		printReport(stdout, res)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Warn().Msg("Run cancelled, no selection produced")
		case errors.Is(err, ierrors.ErrTaskFailed):
			logger.Error().Err(err).Msg("Run incomplete")
		default:
			logger.Error().Err(err).Msg("Run failed")
		}
		return 1
	}
	return 0
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("address", addr).Msg("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", addr).Msg("Metrics server failed")
		}
	}()
	return srv
}

func printReport(w io.Writer, res *pipeline.Result) {
	rep := res.Report
	fmt.Fprintf(w, "run %s: %d records (%d skipped), %d genuine / %d impostor pairs, %d thresholds\n",
		rep.RunID, rep.Records, res.Store.Skipped(), rep.Genuine, rep.Impostor, len(rep.Points))
	if rep.Partial {
		fmt.Fprintln(w, "sweep incomplete, selections withheld")
	} else {
		printSelection(w, "best FAR", rep.BestFAR)
		printSelection(w, "best FRR", rep.BestFRR)
		printSelection(w, "EER", rep.EER)
	}
	fmt.Fprintf(w, "report: %s\n", res.ReportPath)
	if res.CSVPath != "" {
		fmt.Fprintf(w, "csv: %s\n", res.CSVPath)
	}
}

func printSelection(w io.Writer, name string, s sweep.Selection) {
	fmt.Fprintf(w, "%-9s %s\n", name+":", s)
}
