// Package sink writes similar-pair records to their destination: a CSV
// file, a Kafka topic or a Postgres table.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/postgres"
)

// Record is one similar pair with the external ids and sizes of both sets.
type Record struct {
	XID        string  `json:"set_id_x"`
	YID        string  `json:"set_id_y"`
	XSize      int     `json:"set_size_x"`
	YSize      int     `json:"set_size_y"`
	Similarity float64 `json:"similarity"`
}

// Sink receives records in join order. Flush pushes buffered records out;
// Close flushes and releases the destination.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Flush(ctx context.Context) error
	Close() error
	Name() string
}

// Open builds the sink selected by cfg.Sink.Type. runID tags every record
// for sinks that store it. For the csv sink an empty path writes to stdout.
func Open(ctx context.Context, cfg *config.Config, runID string) (Sink, error) {
	switch cfg.Sink.Type {
	case "", "csv":
		if cfg.Sink.Path == "" || cfg.Sink.Path == "-" {
			return NewCSV(nopCloser{os.Stdout})
		}
		f, err := os.Create(cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", cfg.Sink.Path, err)
		}
		return NewCSV(f)
	case "kafka":
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Pairs)
		return NewKafka(producer, runID, cfg.Sink.BatchSize), nil
	case "postgres":
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureSchema(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return NewPostgres(client, runID, cfg.Sink.BatchSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", apperrors.ErrInvalidInput, cfg.Sink.Type)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
