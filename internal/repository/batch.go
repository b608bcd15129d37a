package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"expense-agent/internal/domain"
	"expense-agent/internal/metrics"
)

// MaxBatchSize is the most operations a single atomic transaction may carry.
const MaxBatchSize = 100

var ErrBatchSubmission = errors.New("repository: batch submission failed")

// BatchError reports the chunk whose transaction was rejected. Chunks
// submitted before it stay committed.
type BatchError struct {
	Op           Op
	PartitionKey string
	Chunk        int
	Committed    int
	Err          error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("repository: %s batch: partition %q chunk %d failed after %d committed records: %v",
		e.Op, e.PartitionKey, e.Chunk, e.Committed, e.Err)
}

func (e *BatchError) Unwrap() []error {
	return []error{ErrBatchSubmission, e.Err}
}

// PartitionGroup is the ordered set of records sharing a partition key.
type PartitionGroup struct {
	PartitionKey string
	Records      []domain.Record
}

// GroupByPartition groups records in one pass. Groups appear in order of
// first occurrence and keep the relative input order of their records.
func GroupByPartition(records []domain.Record) []PartitionGroup {
	index := make(map[string]int)
	var groups []PartitionGroup
	for _, r := range records {
		i, ok := index[r.PartitionKey]
		if !ok {
			i = len(groups)
			index[r.PartitionKey] = i
			groups = append(groups, PartitionGroup{PartitionKey: r.PartitionKey})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}

// Chunk splits items into order-preserving slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = MaxBatchSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

type transactor interface {
	SubmitTransaction(ctx context.Context, actions []Action) error
}

// BatchWriter writes arbitrary record sets as per-partition atomic chunks.
// It holds no state between calls.
type BatchWriter struct {
	tx           transactor
	maxBatchSize int
	log          zerolog.Logger
}

func NewBatchWriter(tx transactor, log zerolog.Logger) (*BatchWriter, error) {
	if tx == nil {
		return nil, errors.New("repository: transactor must not be nil")
	}
	return &BatchWriter{
		tx:           tx,
		maxBatchSize: MaxBatchSize,
		log:          log.With().Str("component", "batch-writer").Logger(),
	}, nil
}

// InsertBatch creates every record; a chunk fails if any of its rows exists.
func (w *BatchWriter) InsertBatch(ctx context.Context, records []domain.Record) error {
	return w.WriteBatch(ctx, records, OpInsert)
}

// UpsertBatch replaces every record unconditionally.
func (w *BatchWriter) UpsertBatch(ctx context.Context, records []domain.Record) error {
	return w.WriteBatch(ctx, records, OpUpsert)
}

// DeleteBatch removes records by partition and row key.
func (w *BatchWriter) DeleteBatch(ctx context.Context, records []domain.Record) error {
	return w.WriteBatch(ctx, records, OpDelete)
}

// WriteBatch groups records by partition, chunks each group and submits the
// chunks one at a time. It stops at the first rejected chunk.
func (w *BatchWriter) WriteBatch(ctx context.Context, records []domain.Record, op Op) error {
	if !op.valid() {
		return fmt.Errorf("repository: unknown batch op %q", op)
	}
	if len(records) == 0 {
		return nil
	}
	for i, r := range records {
		if r.PartitionKey == "" || r.RowKey == "" {
			return fmt.Errorf("repository: %s batch: record %d: partition key and row key are required", op, i)
		}
		if op == OpDelete {
			continue
		}
		if _, err := normalizePayload(r.Payload); err != nil {
			return fmt.Errorf("repository: %s batch: record %d: %w", op, i, err)
		}
	}

	committed := 0
	for _, group := range GroupByPartition(records) {
		for i, chunk := range Chunk(group.Records, w.maxBatchSize) {
			if err := w.tx.SubmitTransaction(ctx, toActions(op, chunk)); err != nil {
				metrics.ObserveChunk(string(op), "error", len(chunk))
				w.log.Error().Err(err).
					Str("op", string(op)).
					Str("partition_key", group.PartitionKey).
					Int("chunk", i).
					Int("committed", committed).
					Msg("batch chunk rejected")
				return &BatchError{Op: op, PartitionKey: group.PartitionKey, Chunk: i, Committed: committed, Err: err}
			}
			metrics.ObserveChunk(string(op), "ok", len(chunk))
			committed += len(chunk)
		}
	}
	w.log.Debug().Str("op", string(op)).Int("records", committed).Msg("batch written")
	return nil
}

func toActions(op Op, chunk []domain.Record) []Action {
	actions := make([]Action, 0, len(chunk))
	for _, r := range chunk {
		if op == OpDelete {
			r = domain.Record{PartitionKey: r.PartitionKey, RowKey: r.RowKey}
		}
		actions = append(actions, Action{Op: op, Record: r})
	}
	return actions
}
