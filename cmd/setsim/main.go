// Command setsim finds all pairs of similar sets. Given one input it runs a
// self-join; given two it indexes the first and queries it with the second.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/reader"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/metrics"
)

type inputList []string

func (l *inputList) String() string { return strings.Join(*l, ",") }

func (l *inputList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	err := run(os.Args[1:], metrics.New(nil))
	if err != nil {
		slog.Error("join failed", "error", err)
		fmt.Fprintf(os.Stderr, "setsim: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode is 2 for bad flags, inputs or config and 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case apperrors.IsValidation(err):
		return 2
	default:
		return 1
	}
}

func measureUsage() string {
	names := make([]string, 0, len(similarity.Measures()))
	for _, m := range similarity.Measures() {
		names = append(names, m.String())
	}
	return "similarity measure: " + strings.Join(names, ", ")
}

func run(args []string, m *metrics.Metrics) error {
	fs := flag.NewFlagSet("setsim", flag.ContinueOnError)
	var inputs inputList
	fs.Var(&inputs, "input", "input file; give once for a self-join, twice to index the first and query with the second")
	configPath := fs.String("config", "", "path to config file")
	output := fs.String("output", "", "output file for the csv sink (default stdout)")
	measure := fs.String("measure", "", measureUsage())
	threshold := fs.Float64("threshold", -1, "similarity threshold in [0, 1]")
	reversed := fs.Bool("reversed", false, "read tuples as (Token, SetID)")
	sampleK := fs.Int("sample-k", -1, "query with a random sample of k sets from the second input")
	sinkType := fs.String("sink", "", "result sink: csv, kafka or postgres")
	format := fs.String("format", "", "input format: tuples or text")
	workers := fs.Int("workers", 0, "query workers for cross-collection joins")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if len(inputs) == 0 {
		inputs = fs.Args()
	}
	if len(inputs) < 1 || len(inputs) > 2 {
		return fmt.Errorf("%w: expected one or two inputs, got %d", apperrors.ErrInvalidInput, len(inputs))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Sink.Path = *output
		case "measure":
			cfg.Join.Measure = *measure
		case "threshold":
			cfg.Join.Threshold = *threshold
		case "reversed":
			cfg.Join.ReversedTuples = *reversed
		case "sample-k":
			cfg.Join.SampleK = *sampleK
		case "sink":
			cfg.Sink.Type = *sinkType
		case "format":
			cfg.Join.InputFormat = *format
		case "workers":
			cfg.Join.Workers = *workers
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Join.SampleK > 0 && len(inputs) == 1 {
		return fmt.Errorf("%w: -sample-k needs a second input to sample queries from", apperrors.ErrInvalidInput)
	}

	// Pairs go to stdout by default, so logs go to stderr.
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := pipeline.Params{
		RunID:     uuid.NewString(),
		Measure:   measureOf(cfg),
		Threshold: cfg.Join.Threshold,
		Workers:   cfg.Join.Workers,
	}
	opts := reader.Options{
		Reversed:    cfg.Join.ReversedTuples,
		ShingleSize: cfg.Join.ShingleSize,
	}

	indexed, err := reader.ReadFile(inputs[0], cfg.Join.InputFormat, opts)
	if err != nil {
		return err
	}
	var queries *reader.Collection
	if len(inputs) == 2 {
		queryOpts := opts
		queryOpts.SampleK = cfg.Join.SampleK
		queryOpts.Seed = cfg.Join.SampleSeed
		if queries, err = reader.ReadFile(inputs[1], cfg.Join.InputFormat, queryOpts); err != nil {
			return err
		}
	}

	out, err := sink.Open(ctx, cfg, params.RunID)
	if err != nil {
		return err
	}
	runner := pipeline.New(m, pipeline.WithSpanLogging(cfg.Tracing.Enabled))
	var summary *pipeline.Summary
	if queries == nil {
		summary, err = runner.SelfJoin(ctx, indexed, params, out)
	} else {
		summary, err = runner.CrossJoin(ctx, indexed, queries, params, out)
	}
	if closeErr := out.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("closing %s sink: %w", out.Name(), closeErr))
	}
	if err != nil {
		return err
	}

	slog.Info("join finished",
		"run_id", summary.RunID,
		"kind", summary.Kind,
		"pairs", summary.Pairs,
		"candidates", summary.Work.Candidates,
		"duration", summary.Duration,
	)
	return nil
}

// measureOf is only called after Validate.
func measureOf(cfg *config.Config) similarity.Measure {
	m, _ := similarity.ParseMeasure(cfg.Join.Measure)
	return m
}
