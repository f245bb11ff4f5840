package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/resilience"
)

// PairEvent is the Kafka message value for one record.
type PairEvent struct {
	RunID string `json:"run_id"`
	Record
}

// Publisher is the part of *kafka.Producer the sink needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
	Close() error
}

// Kafka publishes records as JSON events keyed by the first set id, in
// batches. Delivery is at-least-once: a batch whose publish timed out may
// have reached the broker and is sent again by the retry. A batch that still
// fails after the retries is dropped and reported by Flush, so Close does not
// send it a second time.
type Kafka struct {
	producer  Publisher
	runID     string
	batchSize int
	retry     resilience.RetryConfig
	pending   []kafka.Event
}

func NewKafka(producer Publisher, runID string, batchSize int) *Kafka {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Kafka{
		producer:  producer,
		runID:     runID,
		batchSize: batchSize,
		pending:   make([]kafka.Event, 0, batchSize),
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Write(ctx context.Context, r Record) error {
	k.pending = append(k.pending, kafka.Event{
		Key:   r.XID,
		Value: PairEvent{RunID: k.runID, Record: r},
	})
	if len(k.pending) >= k.batchSize {
		return k.Flush(ctx)
	}
	return nil
}

func (k *Kafka) Flush(ctx context.Context) error {
	if len(k.pending) == 0 {
		return nil
	}
	n := len(k.pending)
	err := resilience.Retry(ctx, "kafka-sink", k.retry, func() error {
		return k.producer.PublishBatch(ctx, k.pending)
	})
	k.pending = k.pending[:0]
	if err != nil {
		return fmt.Errorf("flushing %d pairs to kafka: %w", n, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	flushErr := k.Flush(context.Background())
	return errors.Join(flushErr, k.producer.Close())
}
