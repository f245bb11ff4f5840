package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/pkg/resilience"
)

var pairColumns = []string{"run_id", "set_id_x", "set_id_y", "set_size_x", "set_size_y", "similarity"}

// Postgres bulk-loads records into similar_pairs with COPY, one transaction
// per batch. A batch is retried only when its transaction failed, but a
// commit whose acknowledgement was lost is copied again, so delivery is
// at-least-once. A batch that still fails after the retries is dropped and
// reported by Flush.
type Postgres struct {
	client    *postgres.Client
	runID     string
	batchSize int
	retry     resilience.RetryConfig
	pending   []Record
	copyFn    func(ctx context.Context, batch []Record) error
}

func NewPostgres(client *postgres.Client, runID string, batchSize int) *Postgres {
	if batchSize <= 0 {
		batchSize = 500
	}
	p := &Postgres{
		client:    client,
		runID:     runID,
		batchSize: batchSize,
		pending:   make([]Record, 0, batchSize),
	}
	p.copyFn = p.copyBatch
	return p
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Write(ctx context.Context, r Record) error {
	p.pending = append(p.pending, r)
	if len(p.pending) >= p.batchSize {
		return p.Flush(ctx)
	}
	return nil
}

func (p *Postgres) Flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	n := len(p.pending)
	err := resilience.Retry(ctx, "postgres-sink", p.retry, func() error {
		return p.copyFn(ctx, p.pending)
	})
	p.pending = p.pending[:0]
	if err != nil {
		return fmt.Errorf("copying %d pairs to postgres: %w", n, err)
	}
	return nil
}

func (p *Postgres) copyBatch(ctx context.Context, batch []Record) error {
	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("similar_pairs", pairColumns...))
		if err != nil {
			return fmt.Errorf("preparing copy: %w", err)
		}
		for _, r := range batch {
			if _, err := stmt.ExecContext(ctx, p.runID, r.XID, r.YID, r.XSize, r.YSize, r.Similarity); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("copying row: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("finishing copy: %w", err)
		}
		return stmt.Close()
	})
}

func (p *Postgres) Close() error {
	flushErr := p.Flush(context.Background())
	var closeErr error
	if p.client != nil {
		closeErr = p.client.Close()
	}
	return errors.Join(flushErr, closeErr)
}
